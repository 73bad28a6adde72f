package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// blobs returns two well separated clusters with a noise feature.
func blobs() (*mat.Dense, *mat.Dense) {
	n := 40
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 2)
		jitter := float64(i%5) * 0.1
		X.Set(i, 0, c*4+jitter)
		X.Set(i, 1, c*3-jitter)
		X.Set(i, 2, float64((i*7)%11))
		y.Set(i, 0, c)
	}
	return X, y
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := blobs()
	rf := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(42))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	pred, err := rf.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	for i := 0; i < 40; i++ {
		if pred.At(i, 0) != y.At(i, 0) {
			t.Errorf("sample %d: got %v want %v", i, pred.At(i, 0), y.At(i, 0))
		}
	}

	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	for i := 0; i < 40; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}

	imp := rf.FeatureImportances()
	if len(imp) != 3 || imp[2] >= imp[0]+imp[1] {
		t.Errorf("noise feature should not dominate: %v", imp)
	}
}

func TestRandomForestClassifier_Reproducible(t *testing.T) {
	X, y := blobs()
	fit := func(jobs int) mat.Matrix {
		rf := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(3), WithNJobs(jobs))
		if err := rf.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit: %v", err)
		}
		p, err := rf.PredictProba(X)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	serial, concurrent := fit(1), fit(4)
	if !mat.Equal(serial, concurrent) {
		t.Error("forest depends on the number of workers")
	}
}

func TestRandomForestClassifier_ClassAlignment(t *testing.T) {
	// One positive sample: most bootstrap samples miss it.
	X := mat.NewDense(10, 1, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 20})
	y := mat.NewDense(10, 1, []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 1})

	rf := NewRandomForestClassifier(WithNEstimators(10), WithRandomState(1))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	proba, err := rf.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if _, c := proba.Dims(); c != 2 {
		t.Fatalf("expected 2 columns, got %d", c)
	}
	for i := 0; i < 10; i++ {
		if s := proba.At(i, 0) + proba.At(i, 1); math.Abs(s-1) > 1e-9 {
			t.Errorf("row %d sums to %v", i, s)
		}
	}
}

func TestRandomForestClassifier_Params(t *testing.T) {
	rf := NewRandomForestClassifier()
	err := rf.SetParams(map[string]interface{}{
		"n_estimators": 50.0,
		"max_depth":    nil,
		"random_state": 42,
	})
	if err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	params := rf.GetParams()
	if params["n_estimators"].(int) != 50 || params["max_depth"] != nil {
		t.Errorf("unexpected params %v", params)
	}

	if err := rf.SetParams(map[string]interface{}{"max_depth": "10"}); err == nil {
		t.Error("string max_depth other than none should fail")
	}
	if err := rf.SetParams(map[string]interface{}{"n_estimators": 0}); err == nil {
		t.Error("n_estimators=0 should fail")
	}
	if err := rf.SetParams(map[string]interface{}{"criterion": "mae"}); err == nil {
		t.Error("unknown criterion should fail")
	}
	if err := rf.SetParams(map[string]interface{}{"oob_score": true}); err == nil {
		t.Error("unknown key should fail")
	}
}

func TestRandomForestClassifier_Gob(t *testing.T) {
	X, y := blobs()
	rf := NewRandomForestClassifier(WithNEstimators(5), WithMaxDepth(3))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	want, _ := rf.PredictProba(X)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back RandomForestClassifier
	if err := gob.NewDecoder(&buf).Decode(&back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := back.PredictProba(X)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("decoded forest predicts differently")
	}
}

func TestRandomForestClassifier_NotFitted(t *testing.T) {
	if _, err := NewRandomForestClassifier().Predict(mat.NewDense(1, 1, nil)); err == nil {
		t.Error("expected error when predicting without fitting")
	}
}

func TestRandomForestClassifier_Clone(t *testing.T) {
	X, y := blobs()
	rf := NewRandomForestClassifier(WithNEstimators(4), WithBootstrap(false), WithRandomState(9))
	if err := rf.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	c := rf.Clone()
	if len(c.Classes()) != 0 {
		t.Error("clone should be unfitted")
	}
	params := c.GetParams()
	if params["n_estimators"] != 4 || params["bootstrap"] != false || params["random_state"] != int64(9) {
		t.Errorf("clone params = %v", params)
	}
}
