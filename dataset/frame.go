// Package dataset holds labelled tabular data aligned to a feature schema.
package dataset

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"gonum.org/v1/gonum/mat"
)

// Frame is a set of rows aligned to Schema with one binary label per row.
// Rows are treated as immutable once a Frame is built; Subset shares them.
type Frame struct {
	Schema *schema.Schema
	Rows   []schema.Row
	Labels []int
}

// New builds a validated frame.
func New(s *schema.Schema, rows []schema.Row, labels []int) (*Frame, error) {
	f := &Frame{Schema: s, Rows: rows, Labels: labels}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Validate checks shape, value kinds and labels.
func (f *Frame) Validate() error {
	if f.Schema == nil {
		return errors.NewValueError("Frame.Validate", "schema is nil")
	}
	if len(f.Rows) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "Frame.Validate")
	}
	if len(f.Labels) != len(f.Rows) {
		return errors.NewDimensionError("Frame.Validate", len(f.Rows), len(f.Labels), 0)
	}
	width := f.Schema.Len()
	for i, row := range f.Rows {
		if len(row) != width {
			return errors.NewValueError("Frame.Validate",
				fmt.Sprintf("row %d has %d values, schema has %d columns", i, len(row), width))
		}
		for j, v := range row {
			if v.Missing {
				continue
			}
			if f.Schema.Columns[j].Kind == schema.Numeric && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0)) {
				return errors.NewValueError("Frame.Validate",
					fmt.Sprintf("row %d column %q is not finite", i, f.Schema.Columns[j].Name))
			}
		}
		if l := f.Labels[i]; l != 0 && l != 1 {
			return errors.NewValueError("Frame.Validate", fmt.Sprintf("row %d has label %d, want 0 or 1", i, l))
		}
	}
	return nil
}

// Subset returns a frame with the rows at idx, in idx order.
func (f *Frame) Subset(idx []int) *Frame {
	rows := make([]schema.Row, len(idx))
	labels := make([]int, len(idx))
	for k, i := range idx {
		rows[k] = f.Rows[i]
		labels[k] = f.Labels[i]
	}
	return &Frame{Schema: f.Schema, Rows: rows, Labels: labels}
}

// LabelMatrix returns the labels as an n×1 matrix.
func (f *Frame) LabelMatrix() *mat.Dense {
	data := make([]float64, len(f.Labels))
	for i, l := range f.Labels {
		data[i] = float64(l)
	}
	return mat.NewDense(len(data), 1, data)
}

// LabelVec returns the labels as a vector.
func (f *Frame) LabelVec() *mat.VecDense {
	return mat.NewVecDense(len(f.Labels), f.LabelMatrix().RawMatrix().Data)
}

// ClassCounts returns the number of rows per label.
func (f *Frame) ClassCounts() map[int]int {
	counts := make(map[int]int, 2)
	for _, l := range f.Labels {
		counts[l]++
	}
	return counts
}
