package model

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

func TestParamFloat(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		want    float64
		wantErr bool
	}{
		{"float64", 0.1, 0.1, false},
		{"int", 1, 1, false},
		{"int64", int64(7), 7, false},
		{"json number", json.Number("0.01"), 0.01, false},
		{"string", "0.1", 0, true},
		{"nil", nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParamFloat("C", tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var vErr *errors.ValidationError
				if !errors.As(err, &vErr) || vErr.ParamName != "C" {
					t.Errorf("expected ValidationError for C, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParamInt(t *testing.T) {
	if v, err := ParamInt("n_estimators", 100.0); err != nil || v != 100 {
		t.Errorf("ParamInt(100.0) = %d, %v", v, err)
	}
	if _, err := ParamInt("n_estimators", 10.5); err == nil {
		t.Error("expected error for non-integral float")
	}
	if v, err := ParamOptionalInt("max_depth", nil); err != nil || v != -1 {
		t.Errorf("ParamOptionalInt(nil) = %d, %v", v, err)
	}
	if v, err := ParamOptionalInt("max_depth", "None"); err != nil || v != -1 {
		t.Errorf("ParamOptionalInt(None) = %d, %v", v, err)
	}
	if v, err := ParamOptionalInt("max_depth", 10); err != nil || v != 10 {
		t.Errorf("ParamOptionalInt(10) = %d, %v", v, err)
	}
}

func TestFormatParams(t *testing.T) {
	got := FormatParams(map[string]interface{}{"n_estimators": 50, "max_depth": nil, "criterion": "gini"})
	want := "criterion=gini, max_depth=none, n_estimators=50"
	if got != want {
		t.Errorf("FormatParams() = %q, want %q", got, want)
	}
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	if err := s.RequireFitted("LinearSVC", "Predict"); err == nil {
		t.Fatal("expected NotFittedError")
	} else {
		var nf *errors.NotFittedError
		if !errors.As(err, &nf) {
			t.Fatalf("got %T", err)
		}
	}

	s.SetFitted(4, 100)
	if !s.IsFitted() {
		t.Fatal("expected fitted")
	}
	if err := s.CheckFeatures("Predict", 3); err == nil {
		t.Error("expected DimensionError for 3 features")
	}
	if err := s.CheckFeatures("Predict", 4); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	s.Reset()
	if f, n := s.GetDimensions(); s.IsFitted() || f != 0 || n != 0 {
		t.Error("Reset should clear state")
	}
}

func TestPersistence_RoundTrip(t *testing.T) {
	type snapshot struct {
		Weights []float64
		Classes []int
	}
	in := snapshot{Weights: []float64{0.5, -1.25}, Classes: []int{0, 1}}

	var buf bytes.Buffer
	if err := SaveModelToWriter(in, &buf); err != nil {
		t.Fatal(err)
	}
	var out snapshot
	if err := LoadModelFromReader(&out, &buf); err != nil {
		t.Fatal(err)
	}
	if out.Weights[1] != -1.25 || out.Classes[1] != 1 {
		t.Errorf("round trip mismatch: %+v", out)
	}

	if err := LoadModelFromReader(&out, bytes.NewReader([]byte("garbage"))); err == nil {
		t.Error("expected decode error")
	}
}
