package model_selection

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkPartition(t *testing.T, folds []Fold, n int) {
	t.Helper()
	seen := make([]int, n)
	for _, f := range folds {
		require.Equal(t, n, len(f.TrainIndices)+len(f.TestIndices))
		assert.True(t, sort.IntsAreSorted(f.TestIndices))
		inTest := make(map[int]bool, len(f.TestIndices))
		for _, i := range f.TestIndices {
			inTest[i] = true
			seen[i]++
		}
		for _, i := range f.TrainIndices {
			assert.False(t, inTest[i], "index %d in both train and test", i)
		}
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "index %d is tested %d times", i, c)
	}
}

func TestKFold_Split(t *testing.T) {
	y := make([]int, 11)
	folds, err := NewKFold(3, false, 0).Split(y)
	require.NoError(t, err)
	require.Len(t, folds, 3)
	checkPartition(t, folds, 11)

	assert.Equal(t, []int{0, 1, 2, 3}, folds[0].TestIndices)
	assert.Equal(t, []int{4, 5, 6, 7}, folds[1].TestIndices)
	assert.Equal(t, []int{8, 9, 10}, folds[2].TestIndices)
}

func TestKFold_ShuffleIsSeeded(t *testing.T) {
	y := make([]int, 20)
	a, err := NewKFold(4, true, 9).Split(y)
	require.NoError(t, err)
	b, err := NewKFold(4, true, 9).Split(y)
	require.NoError(t, err)
	c, err := NewKFold(4, true, 10).Split(y)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	checkPartition(t, a, 20)
}

func TestStratifiedKFold_Split(t *testing.T) {
	// 12 negatives, 6 positives
	y := make([]int, 18)
	for i := 0; i < 6; i++ {
		y[i*3] = 1
	}
	folds, err := NewStratifiedKFold(3, true, 42).Split(y)
	require.NoError(t, err)
	checkPartition(t, folds, 18)

	for k, f := range folds {
		pos := 0
		for _, i := range f.TestIndices {
			pos += y[i]
		}
		assert.Equal(t, 6, len(f.TestIndices), "fold %d size", k)
		assert.Equal(t, 2, pos, "fold %d positives", k)
	}
}

func TestStratifiedKFold_RemainderIsBalanced(t *testing.T) {
	// 7 negatives and 4 positives over 3 folds: sizes must differ by at most one
	y := []int{0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1}
	folds, err := NewStratifiedKFold(3, false, 0).Split(y)
	require.NoError(t, err)
	checkPartition(t, folds, len(y))

	minSize, maxSize := len(y), 0
	for _, f := range folds {
		minSize = min(minSize, len(f.TestIndices))
		maxSize = max(maxSize, len(f.TestIndices))
	}
	assert.LessOrEqual(t, maxSize-minSize, 1)
}

func TestSplit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		splitter Splitter
		y        []int
	}{
		{"kfold one split", NewKFold(1, false, 0), []int{0, 1, 0}},
		{"kfold too many splits", NewKFold(4, false, 0), []int{0, 1, 0}},
		{"stratified too many splits", NewStratifiedKFold(5, false, 0), []int{0, 1, 0, 1}},
		{"stratified classes too small", NewStratifiedKFold(4, false, 0), []int{0, 0, 0, 1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.splitter.Split(tt.y)
			assert.Error(t, err)
		})
	}
}
