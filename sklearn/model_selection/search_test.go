package model_selection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"github.com/YuminosukeSato/diabeteskit/sklearn/linear_model"
	"github.com/YuminosukeSato/diabeteskit/sklearn/registry"
)

type failingClassifier struct {
	*linear_model.LogisticRegression
}

func (f *failingClassifier) Fit(X, y mat.Matrix) error {
	return errors.New("solver exploded")
}

type panickingClassifier struct {
	*linear_model.LogisticRegression
}

func (p *panickingClassifier) Fit(X, y mat.Matrix) error {
	panic("index out of range")
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.Default()
	require.NoError(t, r.Register("Failing", func() model.Classifier {
		return &failingClassifier{linear_model.NewLogisticRegression()}
	}))
	require.NoError(t, r.Register("Panicking", func() model.Classifier {
		return &panickingClassifier{linear_model.NewLogisticRegression()}
	}))
	return r
}

func trainingFrame(t *testing.T) *dataset.Frame {
	t.Helper()
	s := schema.MustNew(
		schema.Column{Name: "x1", Kind: schema.Numeric},
		schema.Column{Name: "x2", Kind: schema.Numeric},
		schema.Column{Name: "group", Kind: schema.Categorical},
	)
	f, err := dataset.Synthetic(s, 100, 11)
	require.NoError(t, err)
	return f
}

func smallGrids() []FamilyGrid {
	return []FamilyGrid{
		{Family: registry.LogisticRegression, Grid: ParamGrid{"C": {0.1, 1.0}}},
		{Family: registry.DecisionTreeClassifier, Grid: ParamGrid{"max_depth": {2}}},
	}
}

func quietLogger() log.Logger {
	l, _ := log.NewTestLogger(log.LevelError)
	return l
}

func TestGridSearch_Run(t *testing.T) {
	f := trainingFrame(t)
	var mu sync.Mutex
	var calls []Progress
	gs := NewGridSearch(smallGrids(),
		WithFolds(3),
		WithLogger(quietLogger()),
		WithProgress(func(p Progress) {
			mu.Lock()
			calls = append(calls, p)
			mu.Unlock()
		}),
	)

	res, err := gs.Run(context.Background(), f, preprocessing.NewPreprocessor(f.Schema))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	assert.Equal(t, 3, res.Folds)
	assert.Equal(t, ScoringROCAUC, res.Scoring)

	best := res.Best()
	for i, c := range res.Candidates {
		require.NoError(t, c.Err)
		require.Len(t, c.FoldScores, 3)
		assert.GreaterOrEqual(t, c.MeanScore, 0.0)
		assert.LessOrEqual(t, c.MeanScore, 1.0)
		assert.GreaterOrEqual(t, c.StdScore, 0.0)
		if i < res.BestIndex {
			assert.Less(t, c.MeanScore, best.MeanScore)
		} else {
			assert.LessOrEqual(t, c.MeanScore, best.MeanScore)
		}
	}

	require.NotNil(t, res.Pipeline)
	assert.True(t, res.Pipeline.IsFitted())
	assert.Equal(t, best.Family, registry.FamilyOf(res.Pipeline.Classifier))
	pos, err := res.Pipeline.PositiveProba(f.Rows)
	require.NoError(t, err)
	assert.Len(t, pos, f.Len())

	require.Len(t, calls, 9)
	assert.Equal(t, 9, calls[len(calls)-1].Done)
	assert.Equal(t, 9, calls[0].Total)
}

func TestGridSearch_Reproducible(t *testing.T) {
	f := trainingFrame(t)
	grids := []FamilyGrid{
		{Family: registry.RandomForestClassifier, Grid: ParamGrid{"n_estimators": {5}, "max_depth": {nil, 3}}},
		{Family: registry.LinearSVC, Grid: ParamGrid{"C": {0.1}}},
	}
	run := func(jobs int) *SearchResult {
		gs := NewGridSearch(grids, WithFolds(4), WithNJobs(jobs), WithRandomSeed(7), WithLogger(quietLogger()))
		res, err := gs.Run(context.Background(), f, preprocessing.NewPreprocessor(f.Schema))
		require.NoError(t, err)
		return res
	}

	serial, concurrent := run(1), run(8)
	require.Equal(t, serial.BestIndex, concurrent.BestIndex)
	for i := range serial.Candidates {
		assert.Equal(t, serial.Candidates[i].FoldScores, concurrent.Candidates[i].FoldScores)
	}

	a, err := serial.Pipeline.PositiveProba(f.Rows)
	require.NoError(t, err)
	b, err := concurrent.Pipeline.PositiveProba(f.Rows)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGridSearch_TieKeepsFirst(t *testing.T) {
	f := trainingFrame(t)
	grids := []FamilyGrid{{Family: registry.LogisticRegression, Grid: ParamGrid{"C": {1.0, 1.0}}}}
	res, err := NewGridSearch(grids, WithFolds(3), WithLogger(quietLogger())).
		Run(context.Background(), f, preprocessing.NewPreprocessor(f.Schema))
	require.NoError(t, err)
	assert.Equal(t, res.Candidates[0].MeanScore, res.Candidates[1].MeanScore)
	assert.Equal(t, 0, res.BestIndex)
}

func TestGridSearch_FailedCandidatesAreSkipped(t *testing.T) {
	f := trainingFrame(t)
	logger, _ := log.NewTestLogger(log.LevelWarn)
	grids := []FamilyGrid{
		{Family: "Failing", Grid: ParamGrid{}},
		{Family: "Panicking", Grid: ParamGrid{}},
		{Family: registry.LogisticRegression, Grid: ParamGrid{}},
	}
	gs := NewGridSearch(grids, WithFolds(3), WithRegistry(testRegistry(t)), WithLogger(logger))

	res, err := gs.Run(context.Background(), f, preprocessing.NewPreprocessor(f.Schema))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	assert.True(t, res.Candidates[0].Failed())
	assert.Contains(t, res.Candidates[0].Err.Error(), "solver exploded")

	var panicErr *errors.PanicError
	assert.True(t, errors.As(res.Candidates[1].Err, &panicErr))
	assert.Equal(t, 2, res.BestIndex)

	assert.Equal(t, 2, logger.CountLevel("WARN"))
	assert.True(t, logger.ContainsMessage("Candidate failed"))
}

func TestGridSearch_Exhausted(t *testing.T) {
	f := trainingFrame(t)
	grids := []FamilyGrid{{Family: "Failing", Grid: ParamGrid{"C": {0.1, 1.0}}}}
	gs := NewGridSearch(grids, WithFolds(3), WithRegistry(testRegistry(t)), WithLogger(quietLogger()))

	res, err := gs.Run(context.Background(), f, preprocessing.NewPreprocessor(f.Schema))
	assert.Nil(t, res)
	var exhausted *errors.SearchExhaustedError
	require.True(t, errors.As(err, &exhausted), "got %v", err)
	assert.Len(t, exhausted.Failures, 2)
}

func TestGridSearch_Cancelled(t *testing.T) {
	f := trainingFrame(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewGridSearch(nil, WithLogger(quietLogger())).
		Run(ctx, f, preprocessing.NewPreprocessor(f.Schema))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGridSearch_InvalidConfig(t *testing.T) {
	f := trainingFrame(t)
	pre := preprocessing.NewPreprocessor(f.Schema)
	ctx := context.Background()

	_, err := NewGridSearch(nil, WithScoring("f1"), WithLogger(quietLogger())).Run(ctx, f, pre)
	assert.Error(t, err)

	_, err = NewGridSearch([]FamilyGrid{{Family: "KNN"}}, WithLogger(quietLogger())).Run(ctx, f, pre)
	assert.Error(t, err)

	_, err = NewGridSearch(nil, WithFolds(1), WithLogger(quietLogger())).Run(ctx, f, pre)
	assert.Error(t, err)

	_, err = NewGridSearch(nil, WithLogger(quietLogger())).Run(ctx, f, nil)
	assert.Error(t, err)
}

func TestScorers(t *testing.T) {
	assert.Equal(t,
		[]string{ScoringAccuracy, ScoringBrier, ScoringLogLoss, ScoringROCAUC},
		ScoringNames(), "every registered scorer, sorted")
	for _, name := range ScoringNames() {
		_, err := GetScorer(name)
		assert.NoError(t, err, name)
	}
	_, err := GetScorer("r2")
	assert.Error(t, err)
}
