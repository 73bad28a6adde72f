// Package training runs one full training cycle: split, search, holdout
// evaluation, persistence and reporting.
package training

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/metrics"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/sklearn/model_selection"
)

// Defaults of the holdout split.
const (
	DefaultTestSize = 0.2
	DefaultSeed     = 42
)

// Reporter records the outcome of a run. A failing reporter does not fail
// the run.
type Reporter interface {
	Report(o *Outcome) error
}

// Options configures Run. Store is required; everything else has a default.
type Options struct {
	TestSize float64
	// SplitSeed drives the holdout split; Seed drives the fold shuffle and
	// every estimator. Zero is used as is; pass DefaultSeed for the
	// conventional value.
	SplitSeed uint64
	Seed      uint64

	// Grids are the candidate families; nil means model_selection.DefaultGrids().
	Grids   []model_selection.FamilyGrid
	Folds   int
	Scoring string
	NJobs   int

	Store     *artifact.Store
	Reporters []Reporter
	Logger    log.Logger
	Progress  func(model_selection.Progress)
}

func (o *Options) setDefaults() {
	if o.TestSize == 0 {
		o.TestSize = DefaultTestSize
	}
	if o.Folds == 0 {
		o.Folds = model_selection.DefaultFolds
	}
	if o.Scoring == "" {
		o.Scoring = model_selection.DefaultScoring
	}
	if o.Logger == nil {
		o.Logger = log.GetLoggerWithName("Training")
	}
}

// Holdout is the evaluation of the refit winner on the held-out split.
type Holdout struct {
	Samples  int
	Accuracy float64
	AUC      float64
	// Labels and Scores are kept for the ROC curve.
	Labels []int
	Scores []float64
}

// Outcome is everything a run produced.
type Outcome struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Phase     string

	TrainSamples int
	Search       *model_selection.SearchResult
	Holdout      Holdout
	Bundle       *artifact.Bundle
	Entry        artifact.Entry

	// ReportErrors holds the errors of reporters that failed.
	ReportErrors []error
}

// Best returns the winning candidate of the search.
func (o *Outcome) Best() *model_selection.CandidateResult {
	return o.Search.Best()
}

// Run trains on frame with opts and persists the winner.
//
// The outcome moves through the phases untrained, training, validated and
// persisted; every transition is logged. If the search is exhausted no
// artifact is written. Reporter failures are logged and kept on the outcome.
func Run(ctx context.Context, opts Options, frame *dataset.Frame) (*Outcome, error) {
	opts.setDefaults()
	if opts.Store == nil {
		return nil, errors.NewValueError("training.Run", "artifact store is required")
	}
	if frame == nil {
		return nil, errors.NewValueError("training.Run", "training frame is required")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	out := &Outcome{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := opts.Logger.With(log.RunIDKey, out.RunID)
	advance := func(phase string, fields ...any) {
		out.Phase = phase
		logger.Info("Training phase changed", append([]any{log.PhaseKey, phase}, fields...)...)
	}
	advance(log.PhaseUntrained, log.SamplesKey, frame.Len(), log.FeaturesKey, frame.Schema.Len())

	train, test, err := dataset.TrainTestSplit(frame, opts.TestSize, opts.SplitSeed)
	if err != nil {
		return nil, err
	}
	out.TrainSamples = train.Len()

	search := model_selection.NewGridSearch(opts.Grids,
		model_selection.WithFolds(opts.Folds),
		model_selection.WithScoring(opts.Scoring),
		model_selection.WithRandomSeed(opts.Seed),
		model_selection.WithNJobs(opts.NJobs),
		model_selection.WithLogger(logger),
		model_selection.WithProgress(opts.Progress),
	)
	advance(log.PhaseTraining, log.SamplesKey, train.Len())
	res, err := search.Run(ctx, train, preprocessing.NewPreprocessor(frame.Schema))
	if err != nil {
		return nil, err
	}
	out.Search = res

	out.Holdout, err = evaluate(res, test)
	if err != nil {
		return nil, errors.Wrap(err, "holdout evaluation")
	}
	best := res.Best()
	advance(log.PhaseValidated,
		log.ModelNameKey, best.Family,
		log.ParamsKey, model.FormatParams(best.Params),
		log.ScoreKey, best.MeanScore,
		log.AccuracyKey, out.Holdout.Accuracy,
		log.AUCKey, out.Holdout.AUC,
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := &artifact.Bundle{
		RunID:           out.RunID,
		Family:          best.Family,
		Params:          best.Params,
		Scoring:         res.Scoring,
		CVScore:         best.MeanScore,
		CVStd:           best.StdScore,
		HoldoutAccuracy: out.Holdout.Accuracy,
		HoldoutAUC:      out.Holdout.AUC,
		Pipeline:        res.Pipeline,
	}
	out.Entry, err = opts.Store.Save(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "save artifact")
	}
	out.Bundle = b
	out.Duration = time.Since(out.StartedAt)
	advance(log.PhasePersisted, log.ArtifactIDKey, b.ID, log.DurationMsKey, out.Duration.Milliseconds())

	for _, r := range opts.Reporters {
		if err := r.Report(out); err != nil {
			out.ReportErrors = append(out.ReportErrors, err)
			logger.Warn("Report failed", err, log.ArtifactIDKey, b.ID)
		}
	}
	return out, nil
}

func evaluate(res *model_selection.SearchResult, test *dataset.Frame) (Holdout, error) {
	labels, scores, err := res.Pipeline.PredictWithProba(test.Rows)
	if err != nil {
		return Holdout{}, err
	}
	yTrue := test.LabelVec()
	yPred := mat.NewVecDense(len(labels), nil)
	for i, l := range labels {
		yPred.SetVec(i, float64(l))
	}
	acc, err := metrics.Accuracy(yTrue, yPred)
	if err != nil {
		return Holdout{}, err
	}
	auc, err := metrics.AUC(yTrue, mat.NewVecDense(len(scores), append([]float64(nil), scores...)))
	if err != nil {
		return Holdout{}, err
	}
	return Holdout{
		Samples:  test.Len(),
		Accuracy: acc,
		AUC:      auc,
		Labels:   append([]int(nil), test.Labels...),
		Scores:   scores,
	}, nil
}
