package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

var _ model.Classifier = (*LinearSVC)(nil)

func init() {
	gob.Register(&LinearSVC{})
}

// LinearSVC is a binary linear support vector classifier trained with the
// Pegasos stochastic sub-gradient method on the hinge loss.
//
// Probabilities come from Platt scaling: a sigmoid 1/(1+exp(A*f+B)) fitted
// on the training decision values f after the hyperplane is learned.
type LinearSVC struct {
	state *model.StateManager

	// Hyperparameters
	C            float64 // Inverse regularization strength
	maxIter      int     // Number of passes over the training data
	fitIntercept bool
	randomState  int64

	// Model parameters
	coef_      []float64
	intercept_ float64
	plattA_    float64
	plattB_    float64
	classes_   []int
	nFeatures_ int
}

// LinearSVCOption is a functional option for LinearSVC
type LinearSVCOption func(*LinearSVC)

// NewLinearSVC creates a new LinearSVC classifier
func NewLinearSVC(opts ...LinearSVCOption) *LinearSVC {
	svc := &LinearSVC{
		state:        model.NewStateManager(),
		C:            1.0,
		maxIter:      20,
		fitIntercept: true,
		randomState:  0,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithSVCC sets the inverse regularization strength
func WithSVCC(c float64) LinearSVCOption {
	return func(s *LinearSVC) {
		s.C = c
	}
}

// WithSVCMaxIter sets the number of epochs
func WithSVCMaxIter(n int) LinearSVCOption {
	return func(s *LinearSVC) {
		s.maxIter = n
	}
}

// WithSVCRandomState sets the seed of the sample order
func WithSVCRandomState(seed int64) LinearSVCOption {
	return func(s *LinearSVC) {
		s.randomState = seed
	}
}

func (s *LinearSVC) validate() error {
	if s.C <= 0 || math.IsNaN(s.C) {
		return errors.NewValidationError("C", "must be positive", s.C)
	}
	if s.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", s.maxIter)
	}
	return nil
}

// Fit learns the separating hyperplane and the Platt calibration.
func (s *LinearSVC) Fit(X, y mat.Matrix) error {
	if err := s.validate(); err != nil {
		return err
	}
	nSamples, nFeatures, err := checkXY("LinearSVC.Fit", X, y)
	if err != nil {
		return err
	}
	classes, err := extractClasses("LinearSVC.Fit", y)
	if err != nil {
		return err
	}
	if len(classes) != 2 {
		return errors.NewValueError("LinearSVC.Fit", "only binary classification is supported")
	}
	s.state.Reset()
	s.classes_ = classes
	s.nFeatures_ = nFeatures

	Xd := mat.DenseCopyOf(X)
	sign := make([]float64, nSamples)
	for i := range sign {
		sign[i] = -1
		if int(y.At(i, 0)) == classes[1] {
			sign[i] = 1
		}
	}

	s.pegasos(Xd, sign)
	if err := errors.CheckNumericalStability("LinearSVC.Fit", s.coef_, s.maxIter); err != nil {
		return err
	}

	f := make([]float64, nSamples)
	for i := range f {
		f[i] = s.decision(Xd.RawRowView(i))
	}
	s.plattA_, s.plattB_ = plattScaling(f, sign)

	s.state.SetFitted(nFeatures, nSamples)
	return nil
}

// pegasos minimises lambda/2*|w|^2 + mean(hinge) with lambda = 1/(C*n).
// The intercept is an extra regularised feature fixed at 1. The returned
// weights are the average of the iterates of the last epoch.
func (s *LinearSVC) pegasos(X *mat.Dense, sign []float64) {
	n, d := X.Dims()
	lambda := 1.0 / (s.C * float64(n))
	radius := 1.0 / math.Sqrt(lambda)

	dim := d
	if s.fitIntercept {
		dim++
	}
	w := make([]float64, dim)
	avg := make([]float64, dim)
	rng := rand.New(rand.NewPCG(uint64(s.randomState), uint64(s.randomState)))

	t := 0
	for epoch := 0; epoch < s.maxIter; epoch++ {
		last := epoch == s.maxIter-1
		for _, i := range rng.Perm(n) {
			t++
			eta := 1.0 / (lambda * float64(t))
			row := X.RawRowView(i)

			margin := 0.0
			for j, v := range row {
				margin += w[j] * v
			}
			if s.fitIntercept {
				margin += w[d]
			}
			margin *= sign[i]

			shrink := 1 - eta*lambda
			for j := range w {
				w[j] *= shrink
			}
			if margin < 1 {
				for j, v := range row {
					w[j] += eta * sign[i] * v
				}
				if s.fitIntercept {
					w[d] += eta * sign[i]
				}
			}

			var norm float64
			for _, v := range w {
				norm += v * v
			}
			if norm = math.Sqrt(norm); norm > radius {
				for j := range w {
					w[j] *= radius / norm
				}
			}

			if last {
				for j, v := range w {
					avg[j] += v / float64(n)
				}
			}
		}
	}

	s.coef_ = avg[:d:d]
	s.intercept_ = 0
	if s.fitIntercept {
		s.intercept_ = avg[d]
	}
}

// plattScaling fits A and B of P(y=1|f) = 1/(1+exp(A*f+B)) by Newton's
// method with backtracking, using the smoothed targets of Platt (1999).
func plattScaling(f, sign []float64) (A, B float64) {
	var prior1, prior0 float64
	for _, s := range sign {
		if s > 0 {
			prior1++
		} else {
			prior0++
		}
	}
	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	t := make([]float64, len(f))
	for i, s := range sign {
		if s > 0 {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
		eps     = 1e-5
	)

	objective := func(a, b float64) float64 {
		var v float64
		for i := range f {
			fApB := f[i]*a + b
			if fApB >= 0 {
				v += t[i]*fApB + math.Log1p(math.Exp(-fApB))
			} else {
				v += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
			}
		}
		return v
	}

	A, B = 0, math.Log((prior0+1)/(prior1+1))
	fval := objective(A, B)
	for iter := 0; iter < maxIter; iter++ {
		h11, h22, h21 := sigma, sigma, 0.0
		var g1, g2 float64
		for i := range f {
			fApB := f[i]*A + B
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p, q = e/(1+e), 1/(1+e)
			} else {
				e := math.Exp(fApB)
				p, q = 1/(1+e), e/(1+e)
			}
			d2 := p * q
			h11 += f[i] * f[i] * d2
			h22 += d2
			h21 += f[i] * d2
			d1 := t[i] - p
			g1 += f[i] * d1
			g2 += d1
		}
		if math.Abs(g1) < eps && math.Abs(g2) < eps {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB

		step := 1.0
		for step >= minStep {
			newA, newB := A+step*dA, B+step*dB
			if newf := objective(newA, newB); newf < fval+1e-4*step*gd {
				A, B, fval = newA, newB, newf
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return A, B
}

func (s *LinearSVC) decision(row []float64) float64 {
	z := s.intercept_
	for j, v := range row {
		z += v * s.coef_[j]
	}
	return z
}

func (s *LinearSVC) checkPredict(op string, X mat.Matrix) (*mat.Dense, error) {
	if err := s.state.RequireFitted("LinearSVC", op); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := s.state.CheckFeatures("LinearSVC."+op, c); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(X), nil
}

// DecisionFunction returns the signed distance to the hyperplane (n×1).
// Positive values favour Classes()[1].
func (s *LinearSVC) DecisionFunction(X mat.Matrix) (mat.Matrix, error) {
	Xd, err := s.checkPredict("DecisionFunction", X)
	if err != nil {
		return nil, err
	}
	n, _ := Xd.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, s.decision(Xd.RawRowView(i)))
	}
	return out, nil
}

// Predict returns Classes()[1] where the decision value is positive.
func (s *LinearSVC) Predict(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := dec.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label := s.classes_[0]
		if dec.At(i, 0) > 0 {
			label = s.classes_[1]
		}
		out.Set(i, 0, float64(label))
	}
	return out, nil
}

// PredictProba returns Platt-calibrated probabilities (n×2).
func (s *LinearSVC) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	dec, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	n, _ := dec.Dims()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		p1 := errors.StableSigmoid(-(s.plattA_*dec.At(i, 0) + s.plattB_))
		out.Set(i, 0, 1-p1)
		out.Set(i, 1, p1)
	}
	return out, nil
}

// Score returns the mean accuracy on the given test data and labels
func (s *LinearSVC) Score(X, y mat.Matrix) float64 {
	return accuracyScore(s, X, y)
}

// Classes returns the two class labels seen during Fit.
func (s *LinearSVC) Classes() []int {
	return append([]int(nil), s.classes_...)
}

// Clone returns an unfitted LinearSVC with the same hyperparameters.
func (s *LinearSVC) Clone() model.Classifier {
	return &LinearSVC{
		state:        model.NewStateManager(),
		C:            s.C,
		maxIter:      s.maxIter,
		fitIntercept: s.fitIntercept,
		randomState:  s.randomState,
	}
}

// GetParams returns the model hyperparameters
func (s *LinearSVC) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"C":             s.C,
		"max_iter":      s.maxIter,
		"fit_intercept": s.fitIntercept,
		"random_state":  s.randomState,
	}
}

// SetParams sets the model hyperparameters
func (s *LinearSVC) SetParams(params map[string]interface{}) error {
	for _, key := range sortedKeys(params) {
		value := params[key]
		var err error
		switch key {
		case "C":
			s.C, err = model.ParamFloat(key, value)
		case "max_iter":
			s.maxIter, err = model.ParamInt(key, value)
		case "fit_intercept":
			s.fitIntercept, err = model.ParamBool(key, value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			s.randomState = int64(seed)
		default:
			return model.UnknownParam("LinearSVC", key, value)
		}
		if err != nil {
			return err
		}
	}
	return s.validate()
}

type linearSVCState struct {
	C            float64
	MaxIter      int
	FitIntercept bool
	RandomState  int64
	Coef         []float64
	Intercept    float64
	PlattA       float64
	PlattB       float64
	Classes      []int
	NFeatures    int
	Fitted       bool
}

// GobEncode implements gob.GobEncoder.
func (s *LinearSVC) GobEncode() ([]byte, error) {
	st := linearSVCState{
		C:            s.C,
		MaxIter:      s.maxIter,
		FitIntercept: s.fitIntercept,
		RandomState:  s.randomState,
		Coef:         s.coef_,
		Intercept:    s.intercept_,
		PlattA:       s.plattA_,
		PlattB:       s.plattB_,
		Classes:      s.classes_,
		NFeatures:    s.nFeatures_,
		Fitted:       s.state != nil && s.state.IsFitted(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode LinearSVC")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (s *LinearSVC) GobDecode(data []byte) error {
	var st linearSVCState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "decode LinearSVC")
	}
	*s = LinearSVC{
		state:        model.NewStateManager(),
		C:            st.C,
		maxIter:      st.MaxIter,
		fitIntercept: st.FitIntercept,
		randomState:  st.RandomState,
		coef_:        st.Coef,
		intercept_:   st.Intercept,
		plattA_:      st.PlattA,
		plattB_:      st.PlattB,
		classes_:     st.Classes,
		nFeatures_:   st.NFeatures,
	}
	if st.Fitted {
		s.state.SetFitted(st.NFeatures, 0)
	}
	return nil
}
