package pipeline

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"github.com/YuminosukeSato/diabeteskit/sklearn/ensemble"
	"github.com/YuminosukeSato/diabeteskit/sklearn/linear_model"
)

func smallSchema() *schema.Schema {
	return schema.MustNew(
		schema.Column{Name: "x1", Kind: schema.Numeric, Required: true},
		schema.Column{Name: "x2", Kind: schema.Numeric},
		schema.Column{Name: "color", Kind: schema.Categorical},
	)
}

func synthetic(t *testing.T, n int) *dataset.Frame {
	t.Helper()
	f, err := dataset.Synthetic(smallSchema(), n, 7)
	if err != nil {
		t.Fatalf("Synthetic: %v", err)
	}
	return f
}

func TestPipeline_FitPredict(t *testing.T) {
	f := synthetic(t, 120)
	p := New(preprocessing.NewPreprocessor(f.Schema), linear_model.NewLogisticRegression())
	if p.IsFitted() {
		t.Fatal("new pipeline reports fitted")
	}
	if err := p.Fit(f); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	pred, err := p.Predict(f.Rows)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	correct := 0
	for i, v := range pred {
		if v == f.Labels[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(pred)); acc < 0.6 {
		t.Errorf("training accuracy %.2f is too low", acc)
	}

	pos, err := p.PositiveProba(f.Rows)
	if err != nil {
		t.Fatalf("PositiveProba: %v", err)
	}
	proba, _ := p.PredictProba(f.Rows)
	for i, v := range pos {
		if v < 0 || v > 1 {
			t.Fatalf("row %d probability %v out of range", i, v)
		}
		if math.Abs(v-proba.At(i, 1)) > 1e-12 {
			t.Errorf("row %d: PositiveProba %v != column 1 %v", i, v, proba.At(i, 1))
		}
	}
}

func TestPipeline_Unfitted(t *testing.T) {
	f := synthetic(t, 10)
	p := New(preprocessing.NewPreprocessor(f.Schema), linear_model.NewLogisticRegression())

	_, err := p.Predict(f.Rows)
	var upe *errors.UnfittedPipelineError
	if !errors.As(err, &upe) {
		t.Fatalf("expected UnfittedPipelineError, got %v", err)
	}
	if _, err := p.PositiveProba(f.Rows); err == nil {
		t.Error("PositiveProba on an unfitted pipeline should fail")
	}
}

func TestPipeline_Clone(t *testing.T) {
	f := synthetic(t, 60)
	p := New(preprocessing.NewPreprocessor(f.Schema),
		ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(5), ensemble.WithRandomState(3)))
	if err := p.Fit(f); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	c := p.Clone()
	if c.IsFitted() {
		t.Fatal("clone should be unfitted")
	}
	if got, want := c.Classifier.GetParams()["n_estimators"], 5; got != want {
		t.Errorf("clone n_estimators = %v, want %v", got, want)
	}
	if !c.Schema().Equal(p.Schema()) {
		t.Error("clone schema differs")
	}
	// fitting the clone leaves the original untouched
	half := make([]int, 0, f.Len()/2)
	for i := 0; i < f.Len(); i += 2 {
		half = append(half, i)
	}
	before, err := p.PositiveProba(f.Rows)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Fit(f.Subset(half)); err != nil {
		t.Fatalf("Fit clone: %v", err)
	}
	after, _ := p.PositiveProba(f.Rows)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("original pipeline changed after fitting its clone")
		}
	}
}

func TestPipeline_Gob(t *testing.T) {
	f := synthetic(t, 80)
	p := New(preprocessing.NewPreprocessor(f.Schema), linear_model.NewLinearSVC())
	if err := p.Fit(f); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	want, err := p.PositiveProba(f.Rows)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back Pipeline
	if err := gob.NewDecoder(&buf).Decode(&back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := back.PositiveProba(f.Rows)
	if err != nil {
		t.Fatalf("PositiveProba after decode: %v", err)
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > 1e-12 {
			t.Fatalf("row %d: %v != %v", i, got[i], want[i])
		}
	}
}

func TestPipeline_PredictWithProba(t *testing.T) {
	f := synthetic(t, 50)
	p := New(preprocessing.NewPreprocessor(f.Schema), linear_model.NewLinearSVC())
	if err := p.Fit(f); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	labels, pos, err := p.PredictWithProba(f.Rows)
	if err != nil {
		t.Fatalf("PredictWithProba: %v", err)
	}
	pred, _ := p.Predict(f.Rows)
	want, _ := p.PositiveProba(f.Rows)
	for i := range labels {
		if labels[i] != pred[i] || pos[i] != want[i] {
			t.Fatalf("row %d: got (%d, %v), want (%d, %v)", i, labels[i], pos[i], pred[i], want[i])
		}
	}
}
