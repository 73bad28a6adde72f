package tree

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func fitTree(t *testing.T, X, y mat.Matrix, opts ...Option) *DecisionTreeClassifier {
	t.Helper()
	dt := NewDecisionTreeClassifier(opts...)
	if err := dt.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return dt
}

// 閾値は隣接する値の中点で、X <= Threshold が左に進む
func TestDecisionTreeClassifier_MidpointThreshold(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 2, 4, 10})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	dt := fitTree(t, X, y)

	root := dt.nodes_[0]
	if root.Feature != 0 || root.Threshold != 3 {
		t.Fatalf("root split = (%d, %v), want (0, 3)", root.Feature, root.Threshold)
	}
	pred, err := dt.Predict(mat.NewDense(2, 1, []float64{3, 3.01}))
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.At(0, 0) != 0 || pred.At(1, 0) != 1 {
		t.Errorf("boundary predictions = %v, want [0 1]", mat.Formatted(pred.T()))
	}
}

func TestDecisionTreeClassifier_RootImpurity(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	tests := []struct {
		criterion string
		want      float64
	}{
		{"gini", 0.5},
		{"entropy", 1.0},
	}
	for _, tt := range tests {
		dt := fitTree(t, X, y, WithCriterion(tt.criterion))
		if got := dt.nodes_[0].Impurity; math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("%s root impurity = %v, want %v", tt.criterion, got, tt.want)
		}
	}
}

// ラベルは昇順に並べ替えられ、PredictProba の列順になる
func TestDecisionTreeClassifier_SparseLabels(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := mat.NewDense(6, 1, []float64{5, 5, 2, 2, 9, 9})
	dt := fitTree(t, X, y)

	classes := dt.Classes()
	if len(classes) != 3 || classes[0] != 2 || classes[1] != 5 || classes[2] != 9 {
		t.Fatalf("Classes() = %v, want [2 5 9]", classes)
	}
	if s := dt.Score(X, y); s != 1 {
		t.Errorf("Score = %v, want 1", s)
	}
	proba, err := dt.PredictProba(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if proba.At(0, 1) != 1 {
		t.Errorf("row with label 5 should put all mass in column 1, got %v", mat.Formatted(proba))
	}
}

func TestDecisionTreeClassifier_MaxDepth(t *testing.T) {
	// XOR は深さ2で初めて分離できる
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 1, 1, 0, 1, 1})
	y := mat.NewDense(4, 1, []float64{0, 1, 1, 0})

	full := fitTree(t, X, y)
	if full.GetDepth() != 2 || full.GetNLeaves() != 4 || full.Score(X, y) != 1 {
		t.Errorf("unlimited: depth %d leaves %d score %v", full.GetDepth(), full.GetNLeaves(), full.Score(X, y))
	}
	stump := fitTree(t, X, y, WithMaxDepth(1))
	if stump.GetDepth() != 1 || stump.GetNLeaves() != 2 {
		t.Errorf("max_depth=1: depth %d leaves %d", stump.GetDepth(), stump.GetNLeaves())
	}
	root := fitTree(t, X, y, WithMaxDepth(0))
	if root.GetNLeaves() != 1 {
		t.Errorf("max_depth=0 should give a single leaf, got %d", root.GetNLeaves())
	}
}

func TestDecisionTreeClassifier_MinSamplesLeaf(t *testing.T) {
	X := mat.NewDense(6, 1, []float64{0, 1, 2, 3, 4, 5})
	y := mat.NewDense(6, 1, []float64{0, 1, 1, 1, 1, 1})

	// 制約なしでは唯一の負例だけを切り出す
	free := fitTree(t, X, y)
	if got := free.nodes_[0].Threshold; got != 0.5 {
		t.Errorf("unconstrained threshold = %v, want 0.5", got)
	}

	dt := fitTree(t, X, y, WithMinSamplesLeaf(2))
	if got := dt.nodes_[0].Threshold; got != 1.5 {
		t.Errorf("min_samples_leaf=2 threshold = %v, want 1.5", got)
	}
	for i, n := range dt.nodes_ {
		if n.Feature < 0 && n.NSamples < 2 {
			t.Errorf("leaf %d has %d samples", i, n.NSamples)
		}
	}
	proba, err := dt.PredictProba(mat.NewDense(1, 1, []float64{0}))
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	if proba.At(0, 0) != 0.5 || proba.At(0, 1) != 0.5 {
		t.Errorf("mixed leaf proba = %v, want [0.5 0.5]", mat.Formatted(proba))
	}

	split := fitTree(t, X, y, WithMinSamplesSplit(7))
	if split.GetNLeaves() != 1 {
		t.Errorf("min_samples_split above n should keep the root a leaf, got %d leaves", split.GetNLeaves())
	}
}

func TestDecisionTreeClassifier_FeatureImportance(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 7, 2, 7, 4, 7, 10, 7})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	imp := fitTree(t, X, y).GetFeatureImportances()
	if len(imp) != 2 || imp[0] != 1 || imp[1] != 0 {
		t.Errorf("importances = %v, want [1 0]", imp)
	}
}

func TestDecisionTreeClassifier_MaxFeatures(t *testing.T) {
	tests := []struct {
		spec      interface{}
		nFeatures int
		want      int
	}{
		{nil, 9, 9},
		{"sqrt", 9, 3},
		{"log2", 9, 3},
		{"none", 4, 4},
		{2, 9, 2},
		{20, 9, 9},
		{"sqrt", 1, 1},
	}
	for _, tt := range tests {
		spec, err := ParseMaxFeatures(tt.spec)
		if err != nil {
			t.Fatalf("ParseMaxFeatures(%v): %v", tt.spec, err)
		}
		if got := ResolveMaxFeatures(spec, tt.nFeatures); got != tt.want {
			t.Errorf("ResolveMaxFeatures(%v, %d) = %d, want %d", tt.spec, tt.nFeatures, got, tt.want)
		}
	}

	for _, bad := range []interface{}{"half", 0, -3, 1.5} {
		if _, err := ParseMaxFeatures(bad); err == nil {
			t.Errorf("ParseMaxFeatures(%v) should fail", bad)
		}
	}
}

// max_features=1 では根で引いた特徴量が定数列なら分割できずに葉になる
func TestDecisionTreeClassifier_MaxFeaturesSeeded(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 7, 1, 7, 2, 7, 3, 7})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	var split, leaf int
	for seed := int64(0); seed < 20; seed++ {
		a := fitTree(t, X, y, WithMaxFeatures("1"), WithRandomState(seed))
		b := fitTree(t, X, y, WithMaxFeatures("1"), WithRandomState(seed))
		if a.GetNLeaves() != b.GetNLeaves() {
			t.Fatalf("seed %d: same seed gave %d and %d leaves", seed, a.GetNLeaves(), b.GetNLeaves())
		}
		switch a.GetNLeaves() {
		case 1:
			leaf++
		case 2:
			if a.nodes_[0].Feature != 0 {
				t.Errorf("seed %d split on constant feature", seed)
			}
			split++
		default:
			t.Errorf("seed %d: %d leaves", seed, a.GetNLeaves())
		}
	}
	if split == 0 || leaf == 0 {
		t.Errorf("feature draws never varied across seeds: split=%d leaf=%d", split, leaf)
	}

	all := fitTree(t, X, y, WithMaxFeatures("none"), WithRandomState(3))
	if all.GetNLeaves() != 2 {
		t.Errorf("all features considered: %d leaves, want 2", all.GetNLeaves())
	}
}

func TestDecisionTreeClassifier_Deterministic(t *testing.T) {
	X := mat.NewDense(20, 4, nil)
	y := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, float64((i*(j+3))%7))
		}
		y.Set(i, 0, float64((i/3)%2))
	}

	a := fitTree(t, X, y, WithMaxFeatures("sqrt"), WithRandomState(11))
	b := fitTree(t, X, y, WithMaxFeatures("sqrt"), WithRandomState(11))
	if len(a.nodes_) != len(b.nodes_) {
		t.Fatalf("node counts differ: %d vs %d", len(a.nodes_), len(b.nodes_))
	}
	for i := range a.nodes_ {
		if a.nodes_[i].Feature != b.nodes_[i].Feature || a.nodes_[i].Threshold != b.nodes_[i].Threshold {
			t.Fatalf("node %d differs", i)
		}
	}
}

func TestDecisionTreeClassifier_SingleClass(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewDense(3, 1, []float64{1, 1, 1})

	dt := fitTree(t, X, y)
	if dt.GetNLeaves() != 1 || dt.GetDepth() != 0 {
		t.Errorf("expected a single leaf, got %d leaves depth %d", dt.GetNLeaves(), dt.GetDepth())
	}
	proba, _ := dt.PredictProba(X)
	if _, c := proba.Dims(); c != 1 || proba.At(0, 0) != 1 {
		t.Errorf("unexpected probabilities %v", mat.Formatted(proba))
	}
}

func TestDecisionTreeClassifier_PredictErrors(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	dt := NewDecisionTreeClassifier()
	if _, err := dt.Predict(X); err == nil {
		t.Error("Predict before Fit should fail")
	}
	if _, err := dt.PredictProba(X); err == nil {
		t.Error("PredictProba before Fit should fail")
	}

	dt = fitTree(t, X, mat.NewDense(2, 1, []float64{0, 1}))
	if _, err := dt.Predict(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("Predict with a different feature count should fail")
	}
	if err := dt.Fit(X, mat.NewDense(3, 1, nil)); err == nil {
		t.Error("Fit with mismatched rows should fail")
	}
}

func TestDecisionTreeClassifier_Gob(t *testing.T) {
	X := mat.NewDense(8, 3, nil)
	y := mat.NewDense(8, 1, nil)
	for i := 0; i < 8; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%3))
		X.Set(i, 2, float64((i*5)%4))
		y.Set(i, 0, float64(i%2))
	}
	dt := fitTree(t, X, y, WithMaxDepth(3), WithMaxFeatures("2"), WithRandomState(7), WithMinSamplesLeaf(1))

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(dt); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back DecisionTreeClassifier
	if err := gob.NewDecoder(&buf).Decode(&back); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(back.nodes_) != len(dt.nodes_) {
		t.Fatalf("node count %d, want %d", len(back.nodes_), len(dt.nodes_))
	}
	want, _ := dt.PredictProba(X)
	got, err := back.PredictProba(X)
	if err != nil {
		t.Fatalf("decoded PredictProba: %v", err)
	}
	if !mat.Equal(got, want) {
		t.Errorf("decoded probabilities differ:\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(want))
	}
	params := back.GetParams()
	if params["max_depth"] != 3 || params["max_features"] != 2 || params["random_state"] != int64(7) {
		t.Errorf("params lost in round trip: %v", params)
	}

	// 未学習のモデルは未学習のまま戻る
	buf.Reset()
	if err := gob.NewEncoder(&buf).Encode(NewDecisionTreeClassifier()); err != nil {
		t.Fatalf("encode unfitted: %v", err)
	}
	var empty DecisionTreeClassifier
	if err := gob.NewDecoder(&buf).Decode(&empty); err != nil {
		t.Fatalf("decode unfitted: %v", err)
	}
	if _, err := empty.Predict(X); err == nil {
		t.Error("decoded unfitted tree should refuse to predict")
	}
}

func TestDecisionTreeClassifier_SetParams(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	err := dt.SetParams(map[string]interface{}{
		"criterion":        "entropy",
		"max_depth":        5,
		"min_samples_leaf": 2,
		"max_features":     "SQRT",
		"random_state":     9,
	})
	if err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	p := dt.GetParams()
	if p["criterion"] != "entropy" || p["max_depth"] != 5 || p["min_samples_leaf"] != 2 ||
		p["max_features"] != "sqrt" || p["random_state"] != int64(9) {
		t.Errorf("GetParams() = %v", p)
	}

	for _, params := range []map[string]interface{}{
		{"criterion": "mse"},
		{"min_samples_split": 1},
		{"min_samples_leaf": 0},
		{"splitter": "random"},
	} {
		if err := NewDecisionTreeClassifier().SetParams(params); err == nil {
			t.Errorf("SetParams(%v) should fail", params)
		}
	}

	if err := dt.SetParams(map[string]interface{}{"max_depth": nil}); err != nil {
		t.Fatalf("max_depth=nil should mean unlimited: %v", err)
	}
	if dt.GetParams()["max_depth"] != nil {
		t.Errorf("unlimited max_depth should report nil, got %v", dt.GetParams()["max_depth"])
	}
}

func TestDecisionTreeClassifier_Clone(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	dt := fitTree(t, X, y, WithMaxDepth(3), WithMaxFeatures("sqrt"))

	c := dt.Clone()
	if len(c.Classes()) != 0 {
		t.Error("clone should be unfitted")
	}
	params := c.GetParams()
	if params["max_depth"] != 3 || params["max_features"] != "sqrt" {
		t.Errorf("clone params = %v", params)
	}
	if err := c.Fit(X, y); err != nil {
		t.Fatalf("Fit clone: %v", err)
	}
	if dt.GetDepth() < 1 {
		t.Error("original tree lost its nodes")
	}
}
