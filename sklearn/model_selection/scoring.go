package model_selection

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/metrics"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/sklearn/pipeline"
)

// Scorer evaluates a fitted pipeline on a labelled frame. Higher is better.
type Scorer func(p *pipeline.Pipeline, f *dataset.Frame) (float64, error)

// Scoring names accepted by GridSearch.
const (
	ScoringROCAUC   = "roc_auc"
	ScoringAccuracy = "accuracy"
	ScoringLogLoss  = "neg_log_loss"
	ScoringBrier    = "neg_brier_score"
)

var scorers = map[string]Scorer{
	ScoringROCAUC: func(p *pipeline.Pipeline, f *dataset.Frame) (float64, error) {
		pos, err := p.PositiveProba(f.Rows)
		if err != nil {
			return 0, err
		}
		return metrics.AUC(f.LabelVec(), mat.NewVecDense(len(pos), pos))
	},
	ScoringAccuracy: func(p *pipeline.Pipeline, f *dataset.Frame) (float64, error) {
		pred, err := p.Predict(f.Rows)
		if err != nil {
			return 0, err
		}
		return metrics.Accuracy(f.LabelVec(), intVec(pred))
	},
	ScoringLogLoss: func(p *pipeline.Pipeline, f *dataset.Frame) (float64, error) {
		pos, err := p.PositiveProba(f.Rows)
		if err != nil {
			return 0, err
		}
		loss, err := metrics.BinaryLogLoss(f.LabelVec(), mat.NewVecDense(len(pos), pos))
		return -loss, err
	},
	ScoringBrier: func(p *pipeline.Pipeline, f *dataset.Frame) (float64, error) {
		pos, err := p.PositiveProba(f.Rows)
		if err != nil {
			return 0, err
		}
		b, err := metrics.BrierScore(f.LabelVec(), mat.NewVecDense(len(pos), pos))
		return -b, err
	},
}

// GetScorer returns the scorer registered under name.
func GetScorer(name string) (Scorer, error) {
	s, ok := scorers[name]
	if !ok {
		return nil, errors.NewValidationError("scoring", "unknown scoring, expected one of "+strings.Join(ScoringNames(), ", "), name)
	}
	return s, nil
}

// ScoringNames returns the accepted scoring names in sorted order.
func ScoringNames() []string {
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intVec(v []int) *mat.VecDense {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	return mat.NewVecDense(len(data), data)
}
