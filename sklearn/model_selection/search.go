package model_selection

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/core/parallel"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/sklearn/pipeline"
	"github.com/YuminosukeSato/diabeteskit/sklearn/registry"
)

// Search defaults.
const (
	DefaultFolds      = 5
	DefaultScoring    = ScoringROCAUC
	DefaultRandomSeed = 42
)

// Progress is reported once per finished (candidate, fold) job.
type Progress struct {
	Done      int
	Total     int
	Candidate Candidate
	Fold      int
	Err       error
}

// CandidateResult is the cross-validated outcome of one candidate. Err is set
// when any fold failed; the scores are then meaningless.
type CandidateResult struct {
	Candidate
	FoldScores []float64
	MeanScore  float64
	StdScore   float64
	Err        error
	Duration   time.Duration
}

// Failed reports whether the candidate could not be scored.
func (r *CandidateResult) Failed() bool { return r.Err != nil }

// SearchResult holds every candidate and the refit winner.
type SearchResult struct {
	Scoring    string
	Folds      int
	Candidates []CandidateResult
	BestIndex  int
	Pipeline   *pipeline.Pipeline
}

// Best returns the winning candidate.
func (r *SearchResult) Best() *CandidateResult {
	return &r.Candidates[r.BestIndex]
}

// GridSearch evaluates every candidate of a set of family grids with
// stratified k-fold cross-validation and refits the best one.
type GridSearch struct {
	grids    []FamilyGrid
	folds    int
	scoring  string
	seed     uint64
	nJobs    int
	registry *registry.Registry
	logger   log.Logger
	progress func(Progress)
}

// Option configures a GridSearch.
type Option func(*GridSearch)

// WithFolds sets the number of cross-validation folds.
func WithFolds(k int) Option {
	return func(g *GridSearch) { g.folds = k }
}

// WithScoring sets the scoring name (see ScoringNames).
func WithScoring(name string) Option {
	return func(g *GridSearch) { g.scoring = name }
}

// WithRandomSeed sets the seed of the fold shuffle and of every estimator.
func WithRandomSeed(seed uint64) Option {
	return func(g *GridSearch) { g.seed = seed }
}

// WithNJobs bounds the number of concurrent fits; n <= 0 means one per CPU.
func WithNJobs(n int) Option {
	return func(g *GridSearch) { g.nJobs = n }
}

// WithRegistry sets the registry used to build candidates.
func WithRegistry(r *registry.Registry) Option {
	return func(g *GridSearch) { g.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(g *GridSearch) { g.logger = l }
}

// WithProgress sets a callback invoked after each fold. Calls are serialised.
func WithProgress(fn func(Progress)) Option {
	return func(g *GridSearch) { g.progress = fn }
}

// NewGridSearch creates a search over grids. Nil grids mean DefaultGrids().
func NewGridSearch(grids []FamilyGrid, opts ...Option) *GridSearch {
	if grids == nil {
		grids = DefaultGrids()
	}
	g := &GridSearch{
		grids:    grids,
		folds:    DefaultFolds,
		scoring:  DefaultScoring,
		seed:     DefaultRandomSeed,
		registry: registry.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.GetLoggerWithName("GridSearch")
	}
	return g
}

// NumCandidates returns how many candidates Run evaluates.
func (g *GridSearch) NumCandidates() (int, error) {
	cands, err := Candidates(g.grids)
	return len(cands), err
}

// Run cross-validates every candidate on train using clones of pre, picks
// the candidate with the strictly highest mean score (the first one on ties)
// and refits it on all of train.
//
// A failing candidate is recorded and skipped; if all fail the error is a
// SearchExhaustedError. Cancelling ctx stops scheduling new fits and Run
// returns ctx.Err() once the running fits finish.
func (g *GridSearch) Run(ctx context.Context, train *dataset.Frame, pre *preprocessing.Preprocessor) (*SearchResult, error) {
	if pre == nil {
		return nil, errors.NewValueError("GridSearch.Run", "preprocessor is required")
	}
	if err := train.Validate(); err != nil {
		return nil, err
	}
	scorer, err := GetScorer(g.scoring)
	if err != nil {
		return nil, err
	}
	for _, fg := range g.grids {
		if !g.registry.Has(fg.Family) {
			return nil, errors.NewValidationError("family", "unknown model family", fg.Family)
		}
	}
	cands, err := Candidates(g.grids)
	if err != nil {
		return nil, err
	}
	folds, err := NewStratifiedKFold(g.folds, true, g.seed).Split(train.Labels)
	if err != nil {
		return nil, err
	}

	trainSets := make([]*dataset.Frame, len(folds))
	validSets := make([]*dataset.Frame, len(folds))
	for k, f := range folds {
		trainSets[k] = train.Subset(f.TrainIndices)
		validSets[k] = train.Subset(f.TestIndices)
	}

	g.logger.Info("Grid search started",
		log.OperationKey, log.OperationSearch,
		log.CandidatesKey, len(cands),
		log.FoldsKey, len(folds),
		log.ScoringKey, g.scoring,
		log.SamplesKey, train.Len(),
		log.RandomSeedKey, g.seed,
	)

	nFolds := len(folds)
	scores := make([][]float64, len(cands))
	errs := make([][]error, len(cands))
	elapsed := make([][]time.Duration, len(cands))
	for c := range cands {
		scores[c] = make([]float64, nFolds)
		errs[c] = make([]error, nFolds)
		elapsed[c] = make([]time.Duration, nFolds)
	}

	var mu sync.Mutex
	done := 0
	total := len(cands) * nFolds

	runErr := parallel.ForEach(ctx, total, g.nJobs, func(j int) {
		c, k := j/nFolds, j%nFolds
		cand := cands[c]
		start := time.Now()
		err := errors.SafeExecute("GridSearch.fit", func() error {
			p, err := g.build(cand, pre)
			if err != nil {
				return err
			}
			if err := p.Fit(trainSets[k]); err != nil {
				return err
			}
			s, err := scorer(p, validSets[k])
			if err != nil {
				return err
			}
			scores[c][k] = s
			return nil
		})
		errs[c][k] = err
		elapsed[c][k] = time.Since(start)

		if g.progress != nil {
			mu.Lock()
			done++
			g.progress(Progress{Done: done, Total: total, Candidate: cand, Fold: k, Err: err})
			mu.Unlock()
		}
	})
	if runErr != nil {
		g.logger.Warn("Grid search cancelled", log.OperationKey, log.OperationSearch)
		return nil, runErr
	}

	result := &SearchResult{
		Scoring:    g.scoring,
		Folds:      nFolds,
		Candidates: make([]CandidateResult, len(cands)),
		BestIndex:  -1,
	}
	var failures []errors.CandidateFailure
	for c, cand := range cands {
		r := CandidateResult{Candidate: cand, FoldScores: scores[c]}
		for k := 0; k < nFolds; k++ {
			r.Duration += elapsed[c][k]
			if r.Err == nil && errs[c][k] != nil {
				r.Err = errors.Wrapf(errs[c][k], "fold %d", k)
			}
		}
		if r.Err != nil {
			failures = append(failures, errors.CandidateFailure{Candidate: cand.String(), Err: r.Err})
			g.logger.Warn("Candidate failed",
				r.Err,
				log.CandidateKey, cand.Index,
				log.ModelNameKey, cand.Family,
				log.ParamsKey, model.FormatParams(cand.Params),
			)
			result.Candidates[c] = r
			continue
		}
		r.MeanScore, r.StdScore = stat.PopMeanStdDev(r.FoldScores, nil)
		g.logger.Debug("Candidate scored",
			log.CandidateKey, cand.Index,
			log.ModelNameKey, cand.Family,
			log.ParamsKey, model.FormatParams(cand.Params),
			log.ScoreKey, r.MeanScore,
			log.StdKey, r.StdScore,
			log.DurationMsKey, r.Duration.Milliseconds(),
		)
		if result.BestIndex < 0 || r.MeanScore > result.Candidates[result.BestIndex].MeanScore {
			result.BestIndex = c
		}
		result.Candidates[c] = r
	}

	if result.BestIndex < 0 {
		return nil, errors.NewSearchExhaustedError(failures)
	}

	best := result.Best()
	var refit *pipeline.Pipeline
	err = errors.SafeExecute("GridSearch.refit", func() error {
		p, err := g.build(best.Candidate, pre)
		if err != nil {
			return err
		}
		if err := p.Fit(train); err != nil {
			return err
		}
		refit = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "refit %s", best.Candidate)
	}
	result.Pipeline = refit

	g.logger.Info("Grid search finished",
		log.OperationKey, log.OperationSearch,
		log.ModelNameKey, best.Family,
		log.ParamsKey, model.FormatParams(best.Params),
		log.ScoreKey, best.MeanScore,
		log.StdKey, best.StdScore,
		log.FailedKey, len(failures),
	)
	return result, nil
}

func (g *GridSearch) build(cand Candidate, pre *preprocessing.Preprocessor) (*pipeline.Pipeline, error) {
	clf, err := g.registry.Build(cand.Family, cand.Params, int64(g.seed))
	if err != nil {
		return nil, err
	}
	return pipeline.New(pre.Clone(), clf), nil
}
