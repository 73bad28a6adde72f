// Package ensemble provides bagged tree ensembles.
package ensemble

import (
	"bytes"
	"context"
	"encoding/gob"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/core/parallel"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/sklearn/tree"
)

var _ model.Classifier = (*RandomForestClassifier)(nil)

func init() {
	gob.Register(&RandomForestClassifier{})
}

// RandomForestClassifier averages the class probabilities of decision trees
// fitted on bootstrap samples with random feature subsets.
//
// Tree i is seeded from random_state and i only, so the fitted forest does
// not depend on how many trees are built concurrently.
type RandomForestClassifier struct {
	state *model.StateManager

	nEstimators     int
	criterion       string
	maxDepth        int // -1 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	randomState     int64
	nJobs           int

	trees_     []*tree.DecisionTreeClassifier
	classes_   []int
	nFeatures_ int
}

// Option is a functional option for RandomForestClassifier
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier creates a new RandomForestClassifier
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithMaxDepth sets the maximum depth of each tree; negative means unlimited
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = depth }
}

// WithMinSamplesLeaf sets the minimum number of samples in a leaf
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures sets the per-split feature subset ("sqrt", "log2", "none" or a count)
func WithMaxFeatures(spec string) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = spec }
}

// WithBootstrap sets whether trees see bootstrap samples
func WithBootstrap(b bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = b }
}

// WithRandomState sets the seed every tree seed is derived from
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets the number of trees built concurrently; <= 0 means one per CPU
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

func (rf *RandomForestClassifier) validate() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	// tree options are validated by the first tree
	return nil
}

// treeSeed derives the seed of tree i from the forest seed (splitmix64).
func treeSeed(seed int64, i int) uint64 {
	z := uint64(seed) + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func (rf *RandomForestClassifier) newTree(seed uint64) *tree.DecisionTreeClassifier {
	return tree.NewDecisionTreeClassifier(
		tree.WithCriterion(rf.criterion),
		tree.WithMaxDepth(rf.maxDepth),
		tree.WithMinSamplesSplit(rf.minSamplesSplit),
		tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
		tree.WithMaxFeatures(rf.maxFeatures),
		tree.WithRandomState(int64(seed>>1)),
	)
}

// Fit builds the forest. Trees are fitted concurrently and stored by index.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	if err := rf.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, _ := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}

	rf.state.Reset()
	seen := make(map[int]struct{})
	for i := 0; i < nSamples; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	if len(classes) < 2 {
		return errors.NewValueError("RandomForestClassifier.Fit", "training data must contain at least two classes")
	}

	Xd := mat.DenseCopyOf(X)
	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	errs := make([]error, rf.nEstimators)

	err := parallel.ForEach(context.Background(), rf.nEstimators, rf.nJobs, func(i int) {
		seed := treeSeed(rf.randomState, i)
		t := rf.newTree(seed)
		Xb, yb := Xd, y
		if rf.bootstrap {
			Xb, yb = bootstrapSample(Xd, y, rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)))
		}
		errs[i] = errors.SafeExecute("RandomForestClassifier.fitTree", func() error {
			return t.Fit(Xb, yb)
		})
		trees[i] = t
	})
	if err != nil {
		return err
	}
	for i, e := range errs {
		if e != nil {
			return errors.Wrapf(e, "RandomForestClassifier.Fit: tree %d", i)
		}
	}

	rf.trees_ = trees
	rf.classes_ = classes
	rf.nFeatures_ = nFeatures
	rf.state.SetFitted(nFeatures, nSamples)
	return nil
}

// bootstrapSample draws n rows with replacement.
func bootstrapSample(X *mat.Dense, y mat.Matrix, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	n, d := X.Dims()
	Xb := mat.NewDense(n, d, nil)
	yb := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		k := rng.IntN(n)
		Xb.SetRow(i, X.RawRowView(k))
		yb.Set(i, 0, y.At(k, 0))
	}
	return Xb, yb
}

// PredictProba averages the tree probabilities. A tree that never saw a
// class in its bootstrap sample contributes zero for that class.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := rf.state.CheckFeatures("RandomForestClassifier.PredictProba", c); err != nil {
		return nil, err
	}

	column := make(map[int]int, len(rf.classes_))
	for k, cl := range rf.classes_ {
		column[cl] = k
	}
	out := mat.NewDense(r, len(rf.classes_), nil)
	for _, t := range rf.trees_ {
		proba, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		for k, cl := range t.Classes() {
			dst := column[cl]
			for i := 0; i < r; i++ {
				out.Set(i, dst, out.At(i, dst)+proba.At(i, k))
			}
		}
	}
	out.Scale(1/float64(len(rf.trees_)), out)
	return out, nil
}

// Predict returns the class with the highest averaged probability.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	r, k := proba.Dims()
	out := mat.NewDense(r, 1, nil)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(rf.classes_[best]))
	}
	return out, nil
}

// Classes returns the class labels seen during Fit in ascending order.
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// FeatureImportances returns the mean of the tree importances.
func (rf *RandomForestClassifier) FeatureImportances() []float64 {
	out := make([]float64, rf.nFeatures_)
	if len(rf.trees_) == 0 {
		return out
	}
	for _, t := range rf.trees_ {
		for j, v := range t.GetFeatureImportances() {
			out[j] += v / float64(len(rf.trees_))
		}
	}
	return out
}

// Clone returns an unfitted forest with the same hyperparameters.
func (rf *RandomForestClassifier) Clone() model.Classifier {
	return &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     rf.nEstimators,
		criterion:       rf.criterion,
		maxDepth:        rf.maxDepth,
		minSamplesSplit: rf.minSamplesSplit,
		minSamplesLeaf:  rf.minSamplesLeaf,
		maxFeatures:     rf.maxFeatures,
		bootstrap:       rf.bootstrap,
		randomState:     rf.randomState,
		nJobs:           rf.nJobs,
	}
}

// GetParams returns the model hyperparameters. An unlimited max_depth is nil.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	var maxDepth interface{}
	if rf.maxDepth >= 0 {
		maxDepth = rf.maxDepth
	}
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams sets the model hyperparameters
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := params[key]
		var err error
		switch key {
		case "n_estimators":
			rf.nEstimators, err = model.ParamInt(key, value)
		case "criterion":
			rf.criterion, err = model.ParamString(key, value)
		case "max_depth":
			rf.maxDepth, err = model.ParamOptionalInt(key, value)
		case "min_samples_split":
			rf.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			rf.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			rf.maxFeatures, err = tree.ParseMaxFeatures(value)
		case "bootstrap":
			rf.bootstrap, err = model.ParamBool(key, value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			rf.randomState = int64(seed)
		case "n_jobs":
			rf.nJobs, err = model.ParamInt(key, value)
		default:
			return model.UnknownParam("RandomForestClassifier", key, value)
		}
		if err != nil {
			return err
		}
	}
	if err := rf.validate(); err != nil {
		return err
	}
	// a throwaway tree checks the per-tree options
	return rf.newTree(0).SetParams(map[string]interface{}{})
}

type forestState struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	RandomState     int64
	NJobs           int
	Trees           []*tree.DecisionTreeClassifier
	Classes         []int
	NFeatures       int
	Fitted          bool
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	st := forestState{
		NEstimators:     rf.nEstimators,
		Criterion:       rf.criterion,
		MaxDepth:        rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit,
		MinSamplesLeaf:  rf.minSamplesLeaf,
		MaxFeatures:     rf.maxFeatures,
		Bootstrap:       rf.bootstrap,
		RandomState:     rf.randomState,
		NJobs:           rf.nJobs,
		Trees:           rf.trees_,
		Classes:         rf.classes_,
		NFeatures:       rf.nFeatures_,
		Fitted:          rf.state != nil && rf.state.IsFitted(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode RandomForestClassifier")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "decode RandomForestClassifier")
	}
	*rf = RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     st.NEstimators,
		criterion:       st.Criterion,
		maxDepth:        st.MaxDepth,
		minSamplesSplit: st.MinSamplesSplit,
		minSamplesLeaf:  st.MinSamplesLeaf,
		maxFeatures:     st.MaxFeatures,
		bootstrap:       st.Bootstrap,
		randomState:     st.RandomState,
		nJobs:           st.NJobs,
		trees_:          st.Trees,
		classes_:        st.Classes,
		nFeatures_:      st.NFeatures,
	}
	if st.Fitted {
		if len(rf.trees_) == 0 {
			return errors.NewValueError("RandomForestClassifier.GobDecode", "fitted forest has no trees")
		}
		rf.state.SetFitted(st.NFeatures, 0)
	}
	return nil
}
