// Package tree provides a CART decision tree classifier.
package tree

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

var _ model.Classifier = (*DecisionTreeClassifier)(nil)

func init() {
	gob.Register(&DecisionTreeClassifier{})
}

// Node is one node of a fitted tree. Leaves have Feature == -1.
// Samples go left when X[Feature] <= Threshold.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // class distribution at the node, aligned with classes_
	NSamples  int
	Impurity  float64
	Depth     int
}

// DecisionTreeClassifier implements a CART decision tree for classification.
// Compatible with scikit-learn's DecisionTreeClassifier.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // -1 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "none", "sqrt", "log2" or an integer
	randomState     int64

	// Fitted
	nodes_              []Node
	classes_            []int
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
}

// Option is a functional option for DecisionTreeClassifier
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "none",
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure ("gini" or "entropy")
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth sets the maximum depth; a negative value means unlimited
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples to split a node
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples in a leaf
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many features are considered per split:
// "none" (all), "sqrt", "log2" or an integer count.
func WithMaxFeatures(spec string) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = spec
	}
}

// WithRandomState sets the seed used to draw feature subsets
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// ParseMaxFeatures normalises a max_features parameter value.
func ParseMaxFeatures(v interface{}) (string, error) {
	if v == nil {
		return "none", nil
	}
	if s, ok := v.(string); ok {
		s = strings.ToLower(s)
		switch s {
		case "none", "sqrt", "log2":
			return s, nil
		}
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return s, nil
		}
		return "", errors.NewValidationError("max_features", "expected none, sqrt, log2 or a positive integer", v)
	}
	n, err := model.ParamInt("max_features", v)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", errors.NewValidationError("max_features", "must be positive", v)
	}
	return strconv.Itoa(n), nil
}

// ResolveMaxFeatures returns the number of features drawn per split.
func ResolveMaxFeatures(spec string, nFeatures int) int {
	var k int
	switch spec {
	case "", "none":
		k = nFeatures
	case "sqrt":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		k, _ = strconv.Atoi(spec)
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k
}

func (dt *DecisionTreeClassifier) validate() error {
	if dt.criterion != "gini" && dt.criterion != "entropy" {
		return errors.NewValidationError("criterion", "expected gini or entropy", dt.criterion)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	if _, err := ParseMaxFeatures(dt.maxFeatures); err != nil {
		return err
	}
	return nil
}

// builder holds the per-Fit scratch state.
type builder struct {
	dt       *DecisionTreeClassifier
	X        *mat.Dense
	yIdx     []int // class index per sample
	k        int   // features drawn per split
	rng      *rand.Rand
	features []int
	gain     []float64
}

// Fit builds the tree. A single class in y is allowed and yields a single leaf.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	if err := dt.validate(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", 1, yCols, 1)
	}

	dt.state.Reset()
	dt.extractClasses(y)
	dt.nFeatures_ = nFeatures

	classIndex := make(map[int]int, dt.nClasses_)
	for i, c := range dt.classes_ {
		classIndex[c] = i
	}
	b := &builder{
		dt:       dt,
		X:        mat.DenseCopyOf(X),
		yIdx:     make([]int, nSamples),
		k:        ResolveMaxFeatures(dt.maxFeatures, nFeatures),
		rng:      rand.New(rand.NewPCG(uint64(dt.randomState), uint64(dt.randomState))),
		features: make([]int, nFeatures),
		gain:     make([]float64, nFeatures),
	}
	for i := 0; i < nSamples; i++ {
		b.yIdx[i] = classIndex[int(y.At(i, 0))]
	}
	for j := range b.features {
		b.features[j] = j
	}

	idx := make([]int, nSamples)
	for i := range idx {
		idx[i] = i
	}
	dt.nodes_ = nil
	b.build(idx, 0)

	var total float64
	for _, g := range b.gain {
		total += g
	}
	dt.featureImportances_ = make([]float64, nFeatures)
	if total > 0 {
		for j, g := range b.gain {
			dt.featureImportances_[j] = g / total
		}
	}

	dt.state.SetFitted(nFeatures, nSamples)
	return nil
}

func (dt *DecisionTreeClassifier) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}
	dt.classes_ = make([]int, 0, len(seen))
	for c := range seen {
		dt.classes_ = append(dt.classes_, c)
	}
	sort.Ints(dt.classes_)
	dt.nClasses_ = len(dt.classes_)
}

func (b *builder) counts(idx []int) []float64 {
	counts := make([]float64, b.dt.nClasses_)
	for _, i := range idx {
		counts[b.yIdx[i]]++
	}
	return counts
}

func (b *builder) impurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	var imp float64
	if b.dt.criterion == "entropy" {
		for _, c := range counts {
			if c > 0 {
				p := c / n
				imp -= p * math.Log2(p)
			}
		}
		return imp
	}
	imp = 1
	for _, c := range counts {
		p := c / n
		imp -= p * p
	}
	return imp
}

// build appends the subtree for idx and returns its node index.
func (b *builder) build(idx []int, depth int) int {
	dt := b.dt
	counts := b.counts(idx)
	n := float64(len(idx))
	imp := b.impurity(counts, n)

	value := make([]float64, len(counts))
	for c, v := range counts {
		value[c] = v / n
	}
	self := len(dt.nodes_)
	dt.nodes_ = append(dt.nodes_, Node{
		Feature:  -1,
		Value:    value,
		NSamples: len(idx),
		Impurity: imp,
		Depth:    depth,
	})

	if imp <= 0 ||
		(dt.maxDepth >= 0 && depth >= dt.maxDepth) ||
		len(idx) < dt.minSamplesSplit ||
		len(idx) < 2*dt.minSamplesLeaf {
		return self
	}

	feature, threshold, childImp, ok := b.bestSplit(idx, counts)
	if !ok {
		return self
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if b.X.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.gain[feature] += n*imp - childImp

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	node := &dt.nodes_[self]
	node.Feature = feature
	node.Threshold = threshold
	node.Left = l
	node.Right = r
	return self
}

type sample struct {
	v float64
	c int
}

// bestSplit returns the split minimising the sample-weighted child impurity.
// Ties keep the first candidate in feature order.
func (b *builder) bestSplit(idx []int, counts []float64) (feature int, threshold, childImp float64, ok bool) {
	dt := b.dt
	candidates := b.features
	if b.k < len(b.features) {
		perm := b.rng.Perm(len(b.features))[:b.k]
		sort.Ints(perm)
		candidates = perm
	}

	n := len(idx)
	best := math.Inf(1)
	samples := make([]sample, n)
	leftCounts := make([]float64, len(counts))
	rightCounts := make([]float64, len(counts))

	for _, j := range candidates {
		for k, i := range idx {
			samples[k] = sample{v: b.X.At(i, j), c: b.yIdx[i]}
		}
		sort.Slice(samples, func(a, c int) bool { return samples[a].v < samples[c].v })
		if samples[0].v == samples[n-1].v {
			continue
		}

		for c := range leftCounts {
			leftCounts[c] = 0
			rightCounts[c] = counts[c]
		}
		for k := 0; k < n-1; k++ {
			leftCounts[samples[k].c]++
			rightCounts[samples[k].c]--
			nLeft := k + 1
			if samples[k].v == samples[k+1].v {
				continue
			}
			if nLeft < dt.minSamplesLeaf || n-nLeft < dt.minSamplesLeaf {
				continue
			}
			fl, fr := float64(nLeft), float64(n-nLeft)
			weighted := fl*b.impurity(leftCounts, fl) + fr*b.impurity(rightCounts, fr)
			if weighted < best {
				best = weighted
				feature = j
				threshold = samples[k].v + (samples[k+1].v-samples[k].v)/2
				ok = true
			}
		}
	}
	return feature, threshold, best, ok
}

func (dt *DecisionTreeClassifier) leaf(row []float64) *Node {
	node := &dt.nodes_[0]
	for node.Feature >= 0 {
		if row[node.Feature] <= node.Threshold {
			node = &dt.nodes_[node.Left]
		} else {
			node = &dt.nodes_[node.Right]
		}
	}
	return node
}

func (dt *DecisionTreeClassifier) checkPredict(op string, X mat.Matrix) error {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", op); err != nil {
		return err
	}
	_, c := X.Dims()
	return dt.state.CheckFeatures("DecisionTreeClassifier."+op, c)
}

// PredictProba returns the class distribution of the leaf each row lands in.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.checkPredict("PredictProba", X); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	out := mat.NewDense(r, dt.nClasses_, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, X)
		out.SetRow(i, dt.leaf(row).Value)
	}
	return out, nil
}

// Predict returns the majority class of each row's leaf.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
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
		out.Set(i, 0, float64(dt.classes_[best]))
	}
	return out, nil
}

// Score returns the mean accuracy on the given test data and labels
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0.0
	}
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the class labels seen during Fit in ascending order.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalised total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the deepest leaf (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	depth := 0
	for _, n := range dt.nodes_ {
		if n.Depth > depth {
			depth = n.Depth
		}
	}
	return depth
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for _, n := range dt.nodes_ {
		if n.Feature < 0 {
			leaves++
		}
	}
	return leaves
}

// Clone returns an unfitted tree with the same hyperparameters.
func (dt *DecisionTreeClassifier) Clone() model.Classifier {
	return &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       dt.criterion,
		maxDepth:        dt.maxDepth,
		minSamplesSplit: dt.minSamplesSplit,
		minSamplesLeaf:  dt.minSamplesLeaf,
		maxFeatures:     dt.maxFeatures,
		randomState:     dt.randomState,
	}
}

// GetParams returns the model hyperparameters. An unlimited max_depth is nil.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	var maxDepth interface{}
	if dt.maxDepth >= 0 {
		maxDepth = dt.maxDepth
	}
	var maxFeatures interface{} = dt.maxFeatures
	if n, err := strconv.Atoi(dt.maxFeatures); err == nil {
		maxFeatures = n
	}
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the model hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := params[key]
		var err error
		switch key {
		case "criterion":
			dt.criterion, err = model.ParamString(key, value)
		case "max_depth":
			dt.maxDepth, err = model.ParamOptionalInt(key, value)
		case "min_samples_split":
			dt.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			dt.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			dt.maxFeatures, err = ParseMaxFeatures(value)
		case "random_state":
			var seed int
			seed, err = model.ParamInt(key, value)
			dt.randomState = int64(seed)
		default:
			return model.UnknownParam("DecisionTreeClassifier", key, value)
		}
		if err != nil {
			return err
		}
	}
	return dt.validate()
}

type treeState struct {
	Criterion          string
	MaxDepth           int
	MinSamplesSplit    int
	MinSamplesLeaf     int
	MaxFeatures        string
	RandomState        int64
	Nodes              []Node
	Classes            []int
	NFeatures          int
	FeatureImportances []float64
	Fitted             bool
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	st := treeState{
		Criterion:          dt.criterion,
		MaxDepth:           dt.maxDepth,
		MinSamplesSplit:    dt.minSamplesSplit,
		MinSamplesLeaf:     dt.minSamplesLeaf,
		MaxFeatures:        dt.maxFeatures,
		RandomState:        dt.randomState,
		Nodes:              dt.nodes_,
		Classes:            dt.classes_,
		NFeatures:          dt.nFeatures_,
		FeatureImportances: dt.featureImportances_,
		Fitted:             dt.state != nil && dt.state.IsFitted(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode DecisionTreeClassifier")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var st treeState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "decode DecisionTreeClassifier")
	}
	*dt = DecisionTreeClassifier{
		state:               model.NewStateManager(),
		criterion:           st.Criterion,
		maxDepth:            st.MaxDepth,
		minSamplesSplit:     st.MinSamplesSplit,
		minSamplesLeaf:      st.MinSamplesLeaf,
		maxFeatures:         st.MaxFeatures,
		randomState:         st.RandomState,
		nodes_:              st.Nodes,
		classes_:            st.Classes,
		nClasses_:           len(st.Classes),
		nFeatures_:          st.NFeatures,
		featureImportances_: st.FeatureImportances,
	}
	if st.Fitted {
		if len(dt.nodes_) == 0 {
			return errors.NewValueError("DecisionTreeClassifier.GobDecode", "fitted tree has no nodes")
		}
		dt.state.SetFitted(st.NFeatures, 0)
	}
	return nil
}
