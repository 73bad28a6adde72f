package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

var _ model.Classifier = (*LogisticRegression)(nil)

func init() {
	gob.Register(&LogisticRegression{})
}

// LogisticRegression implements L2-regularised logistic regression.
// Two classes are fitted as a single binary problem, more as one-vs-rest.
// Compatible with scikit-learn's LogisticRegression.
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l2" or "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	maxIter      int     // Maximum iterations
	tol          float64 // Tolerance for stopping
	randomState  int64   // Accepted for API compatibility; the solver is deterministic

	// Model parameters
	coef_      [][]float64 // Coefficients (1 x n_features for binary, n_classes x n_features otherwise)
	intercept_ []float64   // Intercept terms
	classes_   []int       // Unique class labels
	nClasses_  int         // Number of classes
	nFeatures_ int         // Number of features
	nIter_     []int       // Actual iterations per binary problem
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		tol:          1e-4,
		randomState:  -1,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.randomState = seed
	}
}

func (lr *LogisticRegression) validate() error {
	if lr.C <= 0 || math.IsNaN(lr.C) {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	if lr.tol < 0 {
		return errors.NewValidationError("tol", "must be non-negative", lr.tol)
	}
	if lr.penalty != "l2" && lr.penalty != "none" {
		return errors.NewValidationError("penalty", "supported penalties are l2 and none", lr.penalty)
	}
	return nil
}

// Fit trains the logistic regression model. Re-fitting discards the previous
// coefficients.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	if err := lr.validate(); err != nil {
		return err
	}
	nSamples, nFeatures, err := checkXY("LogisticRegression.Fit", X, y)
	if err != nil {
		return err
	}

	classes, err := extractClasses("LogisticRegression.Fit", y)
	if err != nil {
		return err
	}
	lr.state.Reset()
	lr.classes_ = classes
	lr.nClasses_ = len(classes)
	lr.nFeatures_ = nFeatures

	nProblems := 1
	if lr.nClasses_ > 2 {
		nProblems = lr.nClasses_
	}
	lr.coef_ = make([][]float64, nProblems)
	lr.intercept_ = make([]float64, nProblems)
	lr.nIter_ = make([]int, nProblems)

	Xd := mat.DenseCopyOf(X)
	step := lr.stepSize(Xd)

	for k := 0; k < nProblems; k++ {
		// binary: positive class is classes_[1]; OVR: positive class is classes_[k]
		positive := lr.classes_[k]
		if nProblems == 1 {
			positive = lr.classes_[1]
		}
		target := mat.NewVecDense(nSamples, nil)
		for i := 0; i < nSamples; i++ {
			if int(y.At(i, 0)) == positive {
				target.SetVec(i, 1)
			}
		}
		if err := lr.fitBinary(Xd, target, k, step); err != nil {
			return err
		}
	}

	lr.state.SetFitted(nFeatures, nSamples)
	return nil
}

// lambda is the L2 strength of the mean-loss objective, 1/(C*n).
func (lr *LogisticRegression) lambda(nSamples int) float64 {
	if lr.penalty == "none" {
		return 0
	}
	return 1.0 / (lr.C * float64(nSamples))
}

// stepSize returns 1/L where L bounds the Lipschitz constant of the gradient:
// 0.25 * mean squared row norm (plus the intercept column) + lambda.
func (lr *LogisticRegression) stepSize(X *mat.Dense) float64 {
	n, _ := X.Dims()
	var sq float64
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for _, v := range row {
			sq += v * v
		}
	}
	L := 0.25*(sq/float64(n)+1) + lr.lambda(n)
	return 1.0 / L
}

// fitBinary runs gradient descent for one binary problem with 0/1 targets.
func (lr *LogisticRegression) fitBinary(X *mat.Dense, target *mat.VecDense, k int, step float64) error {
	nSamples, nFeatures := X.Dims()
	lambda := lr.lambda(nSamples)

	w := mat.NewVecDense(nFeatures, nil)
	var b float64
	z := mat.NewVecDense(nSamples, nil)
	resid := mat.NewVecDense(nSamples, nil)
	grad := mat.NewVecDense(nFeatures, nil)

	converged := false
	for iter := 0; iter < lr.maxIter; iter++ {
		z.MulVec(X, w)
		var gradIntercept float64
		for i := 0; i < nSamples; i++ {
			e := errors.StableSigmoid(z.AtVec(i)+b) - target.AtVec(i)
			resid.SetVec(i, e)
			gradIntercept += e
		}
		grad.MulVec(X.T(), resid)
		grad.ScaleVec(1/float64(nSamples), grad)
		gradIntercept /= float64(nSamples)
		if lambda > 0 {
			grad.AddScaledVec(grad, lambda, w)
		}

		w.AddScaledVec(w, -step, grad)
		if lr.fitIntercept {
			b -= step * gradIntercept
		}
		lr.nIter_[k] = iter + 1

		if err := errors.CheckScalar("LogisticRegression.Fit", b, iter); err != nil {
			return err
		}
		if err := errors.CheckNumericalStability("LogisticRegression.Fit", w.RawVector().Data, iter); err != nil {
			return err
		}

		// Check convergence
		maxGrad := math.Abs(gradIntercept)
		if !lr.fitIntercept {
			maxGrad = 0
		}
		for j := 0; j < nFeatures; j++ {
			if g := math.Abs(grad.AtVec(j)); g > maxGrad {
				maxGrad = g
			}
		}
		if maxGrad < lr.tol {
			converged = true
			break
		}
	}

	if !converged {
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.maxIter, ""))
	}

	lr.coef_[k] = make([]float64, nFeatures)
	copy(lr.coef_[k], w.RawVector().Data)
	lr.intercept_[k] = b
	return nil
}

// decision returns the linear score of row for binary problem k.
func (lr *LogisticRegression) decision(row []float64, k int) float64 {
	z := lr.intercept_[k]
	for j, v := range row {
		z += v * lr.coef_[k][j]
	}
	return z
}

func (lr *LogisticRegression) checkPredict(op string, X mat.Matrix) (*mat.Dense, error) {
	if err := lr.state.RequireFitted("LogisticRegression", op); err != nil {
		return nil, err
	}
	_, c := X.Dims()
	if err := lr.state.CheckFeatures("LogisticRegression."+op, c); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(X), nil
}

// PredictProba returns probability estimates for each class. Columns follow
// Classes(). Multiclass probabilities are the one-vs-rest sigmoids normalised
// to sum to one.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	Xd, err := lr.checkPredict("PredictProba", X)
	if err != nil {
		return nil, err
	}

	nSamples, _ := Xd.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses_, nil)
	for i := 0; i < nSamples; i++ {
		row := Xd.RawRowView(i)
		if lr.nClasses_ == 2 {
			p1 := errors.StableSigmoid(lr.decision(row, 0))
			probas.Set(i, 0, 1.0-p1)
			probas.Set(i, 1, p1)
			continue
		}
		var sum float64
		for k := 0; k < lr.nClasses_; k++ {
			p := errors.StableSigmoid(lr.decision(row, k))
			probas.Set(i, k, p)
			sum += p
		}
		for k := 0; k < lr.nClasses_; k++ {
			probas.Set(i, k, probas.At(i, k)/sum)
		}
	}
	return probas, nil
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxLabels(probas, lr.classes_), nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	return accuracyScore(lr, X, y)
}

// Classes returns the class labels seen during Fit in ascending order.
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// NIter returns the number of iterations run per binary problem.
func (lr *LogisticRegression) NIter() []int {
	return append([]int(nil), lr.nIter_...)
}

// Clone returns an unfitted LogisticRegression with the same hyperparameters.
func (lr *LogisticRegression) Clone() model.Classifier {
	return &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      lr.penalty,
		C:            lr.C,
		fitIntercept: lr.fitIntercept,
		maxIter:      lr.maxIter,
		tol:          lr.tol,
		randomState:  lr.randomState,
	}
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"max_iter":      lr.maxIter,
		"tol":           lr.tol,
		"random_state":  lr.randomState,
	}
}

// SetParams sets the model hyperparameters. Values are converted from any
// numeric representation; unknown keys are rejected.
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	keys := sortedKeys(params)
	for _, key := range keys {
		value := params[key]
		var err error
		switch key {
		case "penalty":
			lr.penalty, err = model.ParamString(key, value)
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.ParamBool(key, value)
		case "max_iter":
			lr.maxIter, err = model.ParamInt(key, value)
		case "tol":
			lr.tol, err = model.ParamFloat(key, value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			lr.randomState = int64(seed)
		default:
			return model.UnknownParam("LogisticRegression", key, value)
		}
		if err != nil {
			return err
		}
	}
	return lr.validate()
}

type logisticState struct {
	Penalty      string
	C            float64
	FitIntercept bool
	MaxIter      int
	Tol          float64
	RandomState  int64
	Coef         [][]float64
	Intercept    []float64
	Classes      []int
	NFeatures    int
	NIter        []int
	Fitted       bool
}

// GobEncode implements gob.GobEncoder.
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	st := logisticState{
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		RandomState:  lr.randomState,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NFeatures:    lr.nFeatures_,
		NIter:        lr.nIter_,
		Fitted:       lr.state != nil && lr.state.IsFitted(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode LogisticRegression")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var st logisticState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "decode LogisticRegression")
	}
	*lr = LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      st.Penalty,
		C:            st.C,
		fitIntercept: st.FitIntercept,
		maxIter:      st.MaxIter,
		tol:          st.Tol,
		randomState:  st.RandomState,
		coef_:        st.Coef,
		intercept_:   st.Intercept,
		classes_:     st.Classes,
		nClasses_:    len(st.Classes),
		nFeatures_:   st.NFeatures,
		nIter_:       st.NIter,
	}
	if st.Fitted {
		lr.state.SetFitted(st.NFeatures, 0)
	}
	return nil
}

// checkXY validates that X and y describe the same samples and y is a column.
func checkXY(op string, X, y mat.Matrix) (nSamples, nFeatures int, err error) {
	nSamples, nFeatures = X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return 0, 0, errors.NewDimensionError(op, nSamples, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewDimensionError(op, 1, yCols, 1)
	}
	return nSamples, nFeatures, nil
}

// extractClasses returns the sorted unique labels of y; fewer than two is an error.
func extractClasses(op string, y mat.Matrix) ([]int, error) {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	if len(classes) < 2 {
		return nil, errors.NewValueError(op, "training data must contain at least two classes")
	}
	return classes, nil
}

// argmaxLabels maps each probability row to the label of its largest column.
// Ties go to the lower class.
func argmaxLabels(probas mat.Matrix, classes []int) *mat.Dense {
	n, k := probas.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if probas.At(i, j) > probas.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

func accuracyScore(p model.Predictor, X, y mat.Matrix) float64 {
	predictions, err := p.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

func sortedKeys(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
