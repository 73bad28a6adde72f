// Package schema defines the ordered, typed column set every artifact is fit
// against and every inference payload is aligned to.
package schema

import (
	"fmt"
	"strings"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// Kind is the semantic type of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Column is one named, typed input. A Required column may not be absent from
// an inference payload; optional columns are imputed.
type Column struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema is an ordered list of columns. The zero value is an empty schema.
type Schema struct {
	Columns []Column
}

// New validates and returns a schema. Names must be non-empty and unique.
func New(cols ...Column) (*Schema, error) {
	if len(cols) == 0 {
		return nil, errors.NewValueError("schema.New", "at least one column is required")
	}
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.NewValueError("schema.New", "column name must not be empty")
		}
		if _, dup := seen[name]; dup {
			return nil, errors.NewValueError("schema.New", fmt.Sprintf("duplicate column %q", name))
		}
		if c.Kind != Numeric && c.Kind != Categorical {
			return nil, errors.NewValueError("schema.New", fmt.Sprintf("column %q has unknown kind %d", name, c.Kind))
		}
		seen[name] = struct{}{}
	}
	out := make([]Column, len(cols))
	copy(out, cols)
	return &Schema{Columns: out}, nil
}

// MustNew is New for package-level literals.
func MustNew(cols ...Column) *Schema {
	s, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

// Diabetes returns the schema of the diabetes risk dataset.
func Diabetes() *Schema {
	return MustNew(
		Column{Name: "year", Kind: Numeric},
		Column{Name: "gender", Kind: Categorical},
		Column{Name: "age", Kind: Numeric},
		Column{Name: "location", Kind: Categorical},
		Column{Name: "smoking_history", Kind: Categorical},
		Column{Name: "bmi", Kind: Numeric},
		Column{Name: "hbA1c_level", Kind: Numeric, Required: true},
		Column{Name: "blood_glucose_level", Kind: Numeric, Required: true},
	)
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.Columns) }

// Names returns the column names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of name, or -1.
func (s *Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// NumericIndices returns the positions of numeric columns in schema order.
func (s *Schema) NumericIndices() []int { return s.indicesOf(Numeric) }

// CategoricalIndices returns the positions of categorical columns in schema order.
func (s *Schema) CategoricalIndices() []int { return s.indicesOf(Categorical) }

func (s *Schema) indicesOf(k Kind) []int {
	var idx []int
	for i, c := range s.Columns {
		if c.Kind == k {
			idx = append(idx, i)
		}
	}
	return idx
}

// Equal reports whether both schemas have the same columns in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.Columns) != len(o.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != o.Columns[i] {
			return false
		}
	}
	return true
}

// Check returns a SchemaMismatchError describing how o differs from s.
func (s *Schema) Check(o *Schema) error {
	if s.Equal(o) {
		return nil
	}
	var unknown, missing []string
	details := map[string]string{}
	for i, c := range o.Columns {
		j := s.Index(c.Name)
		switch {
		case j < 0:
			unknown = append(unknown, c.Name)
		case j != i:
			details[c.Name] = fmt.Sprintf("at position %d, expected %d", i, j)
		case s.Columns[j].Kind != c.Kind:
			details[c.Name] = fmt.Sprintf("kind %s, expected %s", c.Kind, s.Columns[j].Kind)
		case s.Columns[j].Required != c.Required:
			details[c.Name] = "required mismatch"
		}
	}
	for _, c := range s.Columns {
		if o.Index(c.Name) < 0 {
			missing = append(missing, c.Name)
		}
	}
	return errors.NewSchemaMismatchError(unknown, missing, details)
}

// Value is one cell. For numeric columns Num is set, for categorical columns
// Cat. Missing marks an absent or null input that the preprocessor imputes.
type Value struct {
	Num     float64
	Cat     string
	Missing bool
}

// Num returns a numeric value.
func Num(v float64) Value { return Value{Num: v} }

// Cat returns a categorical value.
func Cat(v string) Value { return Value{Cat: v} }

// Missing returns a missing value.
func Missing() Value { return Value{Missing: true} }

// Row is one record aligned to a schema's column order.
type Row []Value
