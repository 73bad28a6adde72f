// Package model_selection provides cross-validation splitters and the
// candidate grid search that picks the best model family and parameters.
package model_selection

import (
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// Splitter produces train/validation folds over n labelled samples.
type Splitter interface {
	Split(y []int) ([]Fold, error)
	GetNSplits() int
}

// Fold holds the row indices of one cross-validation split.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold splits the samples into NSplits contiguous folds, optionally after a
// seeded shuffle. The first n%NSplits folds get one extra sample.
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold
func (kf *KFold) Split(y []int) ([]Fold, error) {
	n := len(y)
	if kf.NSplits < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", kf.NSplits)
	}
	if kf.NSplits > n {
		return nil, errors.NewValidationError("n_splits", "cannot exceed the number of samples", kf.NSplits)
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		shuffle(indices, kf.RandomSeed)
	}

	testOf := make([]int, n)
	foldSize, remainder := n/kf.NSplits, n%kf.NSplits
	pos := 0
	for k := 0; k < kf.NSplits; k++ {
		size := foldSize
		if k < remainder {
			size++
		}
		for _, idx := range indices[pos : pos+size] {
			testOf[idx] = k
		}
		pos += size
	}
	return buildFolds(testOf, kf.NSplits), nil
}

// StratifiedKFold keeps the class proportions of every fold close to those
// of the whole set. Classes are visited in ascending label order and the
// remainder of each class continues where the previous class stopped, so
// fold sizes differ by at most one.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: randomSeed}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold. It fails when
// NSplits exceeds the size of every class.
func (skf *StratifiedKFold) Split(y []int) ([]Fold, error) {
	n := len(y)
	if skf.NSplits < 2 {
		return nil, errors.NewValidationError("n_splits", "must be at least 2", skf.NSplits)
	}
	if skf.NSplits > n {
		return nil, errors.NewValidationError("n_splits", "cannot exceed the number of samples", skf.NSplits)
	}

	byClass := make(map[int][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]int, 0, len(byClass))
	largest := 0
	for label, idx := range byClass {
		labels = append(labels, label)
		if len(idx) > largest {
			largest = len(idx)
		}
	}
	if skf.NSplits > largest {
		return nil, errors.NewValidationError("n_splits", "cannot exceed the number of members in each class", skf.NSplits)
	}
	sort.Ints(labels)

	testOf := make([]int, n)
	next := 0 // fold that receives the next remainder sample
	for c, label := range labels {
		idx := byClass[label]
		if skf.Shuffle {
			shuffle(idx, skf.RandomSeed+uint64(c))
		}
		foldSize := len(idx) / skf.NSplits
		pos := 0
		for k := 0; k < skf.NSplits; k++ {
			for _, i := range idx[pos : pos+foldSize] {
				testOf[i] = k
			}
			pos += foldSize
		}
		for _, i := range idx[pos:] {
			testOf[i] = next
			next = (next + 1) % skf.NSplits
		}
	}
	return buildFolds(testOf, skf.NSplits), nil
}

func shuffle(indices []int, seed uint64) {
	r := rand.New(rand.NewPCG(seed, seed))
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}

// buildFolds turns a per-sample fold assignment into index lists. Both lists
// are in ascending sample order.
func buildFolds(testOf []int, k int) []Fold {
	folds := make([]Fold, k)
	for i, f := range testOf {
		for j := range folds {
			if j == f {
				folds[j].TestIndices = append(folds[j].TestIndices, i)
			} else {
				folds[j].TrainIndices = append(folds[j].TrainIndices, i)
			}
		}
	}
	return folds
}
