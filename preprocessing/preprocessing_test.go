package preprocessing

import (
	"bytes"
	"encoding/gob"
	"math"
	"sync"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	s := NewStandardScalerDefault()
	out, err := s.FitTransform(X)
	if err != nil {
		t.Fatalf("FitTransform: %v", err)
	}

	if math.Abs(s.Mean[0]-2.5) > 1e-12 {
		t.Errorf("Mean[0] = %v, want 2.5", s.Mean[0])
	}
	// population std of 1..4 is sqrt(1.25)
	if math.Abs(s.Scale[0]-math.Sqrt(1.25)) > 1e-12 {
		t.Errorf("Scale[0] = %v", s.Scale[0])
	}
	if s.Scale[1] != 1 {
		t.Errorf("constant column should get scale 1, got %v", s.Scale[1])
	}
	if out.At(1, 1) != 0 {
		t.Errorf("constant column should be centred to 0, got %v", out.At(1, 1))
	}

	if _, err := s.Transform(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected DimensionError for wrong width")
	}
	if _, err := NewStandardScalerDefault().Transform(X); err == nil {
		t.Error("expected NotFittedError")
	}
}

func TestOneHotEncoder(t *testing.T) {
	e := NewOneHotEncoder()
	err := e.Fit([][]string{
		{"never", "Male"},
		{"current", "Female"},
		{"never", ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	// smoking: [current, never, unknown], gender: [Female, Male, unknown]
	if e.NOutputs() != 6 {
		t.Fatalf("NOutputs() = %d, want 6", e.NOutputs())
	}

	out, err := e.Transform([][]string{{"former", "Male"}, {"current", ""}})
	if err != nil {
		t.Fatal(err)
	}
	want := [][]float64{
		{0, 0, 1, 0, 1, 0},
		{1, 0, 0, 0, 0, 1},
	}
	for i := range want {
		for j := range want[i] {
			if out.At(i, j) != want[i][j] {
				t.Errorf("out[%d][%d] = %v, want %v", i, j, out.At(i, j), want[i][j])
			}
		}
	}

	names := e.FeatureNames([]string{"smoking_history", "gender"})
	if names[0] != "smoking_history=current" || names[2] != "smoking_history="+UnknownCategory {
		t.Errorf("FeatureNames() = %v", names)
	}
}

func mixedSchema() *schema.Schema {
	return schema.MustNew(
		schema.Column{Name: "age", Kind: schema.Numeric},
		schema.Column{Name: "gender", Kind: schema.Categorical},
		schema.Column{Name: "glucose", Kind: schema.Numeric, Required: true},
	)
}

func mixedFrame(t *testing.T) *dataset.Frame {
	t.Helper()
	f, err := dataset.New(mixedSchema(), []schema.Row{
		{schema.Num(20), schema.Cat("F"), schema.Num(90)},
		{schema.Num(40), schema.Cat("M"), schema.Num(150)},
		{schema.Missing(), schema.Cat("F"), schema.Num(120)},
		{schema.Num(60), schema.Missing(), schema.Num(200)},
	}, []int{0, 1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestPreprocessor_FitTransformWidth(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)

	out, err := p.FitTransform(f)
	if err != nil {
		t.Fatal(err)
	}
	r, c := out.Dims()
	// 2 numeric + gender{F, M, unknown}
	if r != f.Len() || c != 5 || c != p.NOutputs() {
		t.Fatalf("dims = %dx%d, NOutputs = %d", r, c, p.NOutputs())
	}
	if got := p.FeatureNames(); len(got) != c || got[0] != "age" || got[1] != "glucose" || got[2] != "gender=F" {
		t.Errorf("FeatureNames() = %v", got)
	}

	// missing age is imputed with the mean of observed ages (40) → scaled 0
	if math.Abs(out.At(2, 0)) > 1e-12 {
		t.Errorf("imputed age should scale to 0, got %v", out.At(2, 0))
	}
	if p.ImputeValues()["age"] != 40 {
		t.Errorf("ImputeValues()[age] = %v", p.ImputeValues()["age"])
	}
	// missing gender goes to the unknown bucket
	if out.At(3, 4) != 1 {
		t.Errorf("missing category should set unknown bucket, row = %v", mat.Row(nil, 3, out))
	}
}

func TestPreprocessor_UnseenCategory(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)
	if err := p.Fit(f); err != nil {
		t.Fatal(err)
	}

	out, err := p.Transform([]schema.Row{{schema.Num(30), schema.Cat("X"), schema.Num(100)}})
	if err != nil {
		t.Fatalf("unseen category must not fail: %v", err)
	}
	if _, c := out.Dims(); c != p.NOutputs() {
		t.Errorf("width = %d, want %d", c, p.NOutputs())
	}
	if out.At(0, 2) != 0 || out.At(0, 3) != 0 || out.At(0, 4) != 1 {
		t.Errorf("unseen category encoding = %v", mat.Row(nil, 0, out))
	}
}

func TestPreprocessor_Errors(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)

	_, err := p.Transform(f.Rows)
	var unfitted *errors.UnfittedPipelineError
	if !errors.As(err, &unfitted) {
		t.Fatalf("expected UnfittedPipelineError, got %v", err)
	}

	if err := p.Fit(f); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Transform([]schema.Row{{schema.Num(1)}}); err == nil {
		t.Error("expected error for short row")
	}

	other := &dataset.Frame{Schema: schema.MustNew(schema.Column{Name: "bmi"}), Rows: []schema.Row{{schema.Num(1)}}, Labels: []int{0}}
	var mismatch *errors.SchemaMismatchError
	if err := p.Fit(other); !errors.As(err, &mismatch) {
		t.Errorf("expected SchemaMismatchError, got %v", err)
	}
}

func TestPreprocessor_RefitReplacesState(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)
	if err := p.Fit(f); err != nil {
		t.Fatal(err)
	}
	before := p.NOutputs()

	g, _ := dataset.New(mixedSchema(), []schema.Row{
		{schema.Num(1), schema.Cat("A"), schema.Num(1)},
		{schema.Num(2), schema.Cat("B"), schema.Num(2)},
		{schema.Num(3), schema.Cat("C"), schema.Num(3)},
	}, []int{0, 1, 0})
	if err := p.Fit(g); err != nil {
		t.Fatal(err)
	}
	if p.NOutputs() == before {
		t.Fatalf("refit should replace the vocabulary")
	}
	if names := p.FeatureNames(); names[2] != "gender=A" {
		t.Errorf("old vocabulary leaked into refit: %v", names)
	}

	clone := p.Clone()
	if clone.IsFitted() || clone.NOutputs() != 0 {
		t.Error("Clone must be unfitted")
	}
	if !clone.Schema().Equal(p.Schema()) {
		t.Error("Clone must keep the schema")
	}
}

func TestPreprocessor_GobRoundTrip(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)
	want, err := p.FitTransform(f)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		t.Fatal(err)
	}
	var back Preprocessor
	if err := gob.NewDecoder(&buf).Decode(&back); err != nil {
		t.Fatal(err)
	}

	got, err := back.Transform(f.Rows)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(want, got) {
		t.Error("decoded preprocessor transforms differently")
	}
}

func TestPreprocessor_ConcurrentTransform(t *testing.T) {
	f := mixedFrame(t)
	p := NewPreprocessor(f.Schema)
	want, err := p.FitTransform(f)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Transform(f.Rows)
			if err != nil || !mat.Equal(want, got) {
				t.Errorf("concurrent transform mismatch: %v", err)
			}
		}()
	}
	wg.Wait()
}
