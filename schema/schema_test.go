package schema

import (
	"strings"
	"testing"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cols    []Column
		wantErr bool
	}{
		{"ok", []Column{{Name: "age", Kind: Numeric}, {Name: "gender", Kind: Categorical}}, false},
		{"empty", nil, true},
		{"blank name", []Column{{Name: " ", Kind: Numeric}}, true},
		{"duplicate", []Column{{Name: "age"}, {Name: "age"}}, true},
		{"bad kind", []Column{{Name: "age", Kind: Kind(7)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cols...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiabetes(t *testing.T) {
	s := Diabetes()
	if s.Len() != 8 {
		t.Fatalf("expected 8 columns, got %d", s.Len())
	}
	num := s.NumericIndices()
	cat := s.CategoricalIndices()
	if len(num) != 5 || len(cat) != 3 {
		t.Errorf("numeric=%v categorical=%v", num, cat)
	}
	for _, name := range []string{"hbA1c_level", "blood_glucose_level"} {
		i := s.Index(name)
		if i < 0 || !s.Columns[i].Required {
			t.Errorf("%s should be a required column", name)
		}
	}
	if s.Columns[s.Index("bmi")].Required {
		t.Error("bmi should be optional")
	}
	if s.Index("insulin") != -1 {
		t.Error("unknown column should have index -1")
	}
}

func TestEqualAndCheck(t *testing.T) {
	a := MustNew(Column{Name: "x", Kind: Numeric}, Column{Name: "c", Kind: Categorical})
	b := MustNew(Column{Name: "x", Kind: Numeric}, Column{Name: "c", Kind: Categorical})
	if !a.Equal(b) || a.Check(b) != nil {
		t.Fatal("identical schemas should be equal")
	}

	reordered := MustNew(Column{Name: "c", Kind: Categorical}, Column{Name: "x", Kind: Numeric})
	if a.Equal(reordered) {
		t.Error("column order must matter")
	}

	other := MustNew(Column{Name: "x", Kind: Numeric}, Column{Name: "z", Kind: Numeric})
	err := a.Check(other)
	var sm *errors.SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if len(sm.Unknown) != 1 || sm.Unknown[0] != "z" {
		t.Errorf("unknown = %v", sm.Unknown)
	}
	if len(sm.Missing) != 1 || sm.Missing[0] != "c" {
		t.Errorf("missing = %v", sm.Missing)
	}
}

func TestCheck_RequiredMismatch(t *testing.T) {
	want := MustNew(Column{Name: "x", Kind: Numeric, Required: true})
	got := MustNew(Column{Name: "x", Kind: Numeric})

	err := want.Check(got)
	var sm *errors.SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if sm.Details["x"] != "required mismatch" {
		t.Errorf("details = %v", sm.Details)
	}
	if len(sm.Unknown) != 0 || len(sm.Missing) != 0 {
		t.Errorf("unknown = %v, missing = %v", sm.Unknown, sm.Missing)
	}
	if !strings.HasSuffix(err.Error(), "x: required mismatch") {
		t.Errorf("message %q does not name the column", err.Error())
	}
}
