// Package pipeline chains the feature preprocessor and a classifier so that
// both are fitted, cloned and persisted as one unit.
package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

// PositiveClass is the label whose probability is reported by PositiveProba.
const PositiveClass = 1

// Pipeline is a preprocessor followed by a classifier.
//
// The fields are exported so the whole pipeline can be gob-encoded; the
// concrete classifier type must be registered with gob.
type Pipeline struct {
	Preprocessor *preprocessing.Preprocessor
	Classifier   model.Classifier
}

// New creates an unfitted pipeline.
func New(pre *preprocessing.Preprocessor, clf model.Classifier) *Pipeline {
	return &Pipeline{Preprocessor: pre, Classifier: clf}
}

// Schema returns the feature schema the pipeline consumes.
func (p *Pipeline) Schema() *schema.Schema {
	return p.Preprocessor.Schema()
}

// IsFitted reports whether Fit has completed for both stages.
func (p *Pipeline) IsFitted() bool {
	return p.Preprocessor != nil && p.Preprocessor.IsFitted() && len(p.Classifier.Classes()) > 0
}

// Clone returns an unfitted pipeline with the same configuration.
func (p *Pipeline) Clone() *Pipeline {
	return New(p.Preprocessor.Clone(), p.Classifier.Clone())
}

// Fit fits the preprocessor on the features of f, then the classifier on
// the transformed features and the labels of f.
func (p *Pipeline) Fit(f *dataset.Frame) error {
	if p.Preprocessor == nil || p.Classifier == nil {
		return errors.NewValueError("Pipeline.Fit", "preprocessor and classifier are required")
	}
	X, err := p.Preprocessor.FitTransform(f)
	if err != nil {
		return errors.Wrap(err, "fit preprocessor")
	}
	if err := p.Classifier.Fit(X, f.LabelMatrix()); err != nil {
		return errors.Wrap(err, "fit classifier")
	}
	return nil
}

func (p *Pipeline) transform(method string, rows []schema.Row) (*mat.Dense, error) {
	if !p.IsFitted() {
		return nil, errors.NewUnfittedPipelineError("Pipeline", method)
	}
	return p.Preprocessor.Transform(rows)
}

// PredictProba returns one probability column per entry of Classes().
func (p *Pipeline) PredictProba(rows []schema.Row) (mat.Matrix, error) {
	X, err := p.transform("PredictProba", rows)
	if err != nil {
		return nil, err
	}
	return p.Classifier.PredictProba(X)
}

// PositiveProba returns P(label == PositiveClass) per row. If the classifier
// never saw the positive class the probability is 0.
func (p *Pipeline) PositiveProba(rows []schema.Row) ([]float64, error) {
	proba, err := p.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	return positiveColumn(proba, p.Classifier.Classes(), len(rows)), nil
}

// Predict returns the predicted label of each row.
func (p *Pipeline) Predict(rows []schema.Row) ([]int, error) {
	X, err := p.transform("Predict", rows)
	if err != nil {
		return nil, err
	}
	pred, err := p.Classifier.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(rows))
	for i := range out {
		out[i] = int(pred.At(i, 0))
	}
	return out, nil
}

// PredictWithProba transforms rows once and returns both the predicted
// labels and P(label == PositiveClass).
func (p *Pipeline) PredictWithProba(rows []schema.Row) ([]int, []float64, error) {
	X, err := p.transform("PredictWithProba", rows)
	if err != nil {
		return nil, nil, err
	}
	pred, err := p.Classifier.Predict(X)
	if err != nil {
		return nil, nil, err
	}
	proba, err := p.Classifier.PredictProba(X)
	if err != nil {
		return nil, nil, err
	}
	labels := make([]int, len(rows))
	for i := range labels {
		labels[i] = int(pred.At(i, 0))
	}
	return labels, positiveColumn(proba, p.Classifier.Classes(), len(rows)), nil
}

func positiveColumn(proba mat.Matrix, classes []int, n int) []float64 {
	out := make([]float64, n)
	for k, c := range classes {
		if c != PositiveClass {
			continue
		}
		for i := range out {
			out[i] = proba.At(i, k)
		}
	}
	return out
}
