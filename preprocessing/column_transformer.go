package preprocessing

import (
	"bytes"
	"encoding/gob"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/diabeteskit/core/model"
	"github.com/YuminosukeSato/diabeteskit/core/parallel"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

// transformParallelThreshold is the row count above which Transform fans out.
const transformParallelThreshold = 4096

// Preprocessor turns schema-aligned rows into a fixed-width numeric matrix.
//
// Output layout, decided entirely at Fit time:
//
//	[ scaled numeric columns (schema order) | one-hot blocks (schema order) ]
//
// Missing numeric values are imputed with the column mean observed during
// Fit; missing or unseen categorical values go to the unknown bucket.
// A fitted Preprocessor is read-only and safe for concurrent Transform calls.
type Preprocessor struct {
	schema  *schema.Schema
	numIdx  []int
	catIdx  []int
	impute  []float64
	scaler  *StandardScaler
	encoder *OneHotEncoder
	state   *model.StateManager
}

// NewPreprocessor creates an unfitted preprocessor for s.
func NewPreprocessor(s *schema.Schema) *Preprocessor {
	return &Preprocessor{
		schema: s,
		numIdx: s.NumericIndices(),
		catIdx: s.CategoricalIndices(),
		state:  model.NewStateManager(),
	}
}

// Schema returns the schema the preprocessor was built for.
func (p *Preprocessor) Schema() *schema.Schema { return p.schema }

// IsFitted reports whether Fit has completed.
func (p *Preprocessor) IsFitted() bool { return p.state.IsFitted() }

// Clone returns an unfitted preprocessor with the same configuration.
func (p *Preprocessor) Clone() *Preprocessor {
	return NewPreprocessor(p.schema)
}

// Fit learns imputation means, scaling statistics and vocabularies from the
// feature rows of f. Labels are not used. Re-fitting replaces all state.
func (p *Preprocessor) Fit(f *dataset.Frame) error {
	if err := p.schema.Check(f.Schema); err != nil {
		return err
	}
	n := f.Len()
	if n == 0 {
		return errors.NewModelError("Preprocessor.Fit", "empty data", errors.ErrEmptyData)
	}
	p.state.Reset()

	impute := make([]float64, len(p.numIdx))
	for k, j := range p.numIdx {
		var sum float64
		var count int
		for _, row := range f.Rows {
			if !row[j].Missing {
				sum += row[j].Num
				count++
			}
		}
		if count > 0 {
			impute[k] = sum / float64(count)
		}
	}
	p.impute = impute

	p.scaler = nil
	if len(p.numIdx) > 0 {
		num := mat.NewDense(n, len(p.numIdx), nil)
		for i, row := range f.Rows {
			p.fillNumeric(row, num.RawRowView(i))
		}
		scaler := NewStandardScalerDefault()
		if err := scaler.Fit(num); err != nil {
			return errors.Wrap(err, "Preprocessor.Fit")
		}
		p.scaler = scaler
	}

	p.encoder = nil
	if len(p.catIdx) > 0 {
		cats := make([][]string, n)
		for i, row := range f.Rows {
			cats[i] = p.categorical(row)
		}
		encoder := NewOneHotEncoder()
		if err := encoder.Fit(cats); err != nil {
			return errors.Wrap(err, "Preprocessor.Fit")
		}
		p.encoder = encoder
	}

	p.state.SetFitted(p.NOutputs(), n)
	return nil
}

func (p *Preprocessor) fillNumeric(row schema.Row, out []float64) {
	for k, j := range p.numIdx {
		if row[j].Missing {
			out[k] = p.impute[k]
		} else {
			out[k] = row[j].Num
		}
	}
}

func (p *Preprocessor) categorical(row schema.Row) []string {
	out := make([]string, len(p.catIdx))
	for k, j := range p.catIdx {
		if !row[j].Missing {
			out[k] = row[j].Cat
		}
	}
	return out
}

// NOutputs returns the width of the transformed matrix. It is 0 before Fit.
func (p *Preprocessor) NOutputs() int {
	if p.scaler == nil && p.encoder == nil {
		return 0
	}
	n := len(p.numIdx)
	if p.encoder != nil {
		n += p.encoder.NOutputs()
	}
	return n
}

// Transform encodes rows with the parameters frozen by Fit. Every row must
// have one value per schema column; the output always has NOutputs() columns.
func (p *Preprocessor) Transform(rows []schema.Row) (*mat.Dense, error) {
	if !p.state.IsFitted() {
		return nil, errors.NewUnfittedPipelineError("Preprocessor", "Transform")
	}
	if len(rows) == 0 {
		return nil, errors.NewModelError("Preprocessor.Transform", "empty data", errors.ErrEmptyData)
	}
	width := p.schema.Len()
	for _, row := range rows {
		if len(row) != width {
			return nil, errors.NewDimensionError("Preprocessor.Transform", width, len(row), 1)
		}
	}

	nNum := len(p.numIdx)
	out := mat.NewDense(len(rows), p.NOutputs(), nil)
	parallel.ParallelizeWithThreshold(len(rows), transformParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			dst := out.RawRowView(i)
			if nNum > 0 {
				p.fillNumeric(rows[i], dst[:nNum])
				for k := range dst[:nNum] {
					dst[k] = p.scaler.scale(k, dst[k])
				}
			}
			if p.encoder != nil {
				p.encoder.encodeRow(p.categorical(rows[i]), dst[nNum:])
			}
		}
	})

	if err := errors.CheckNumericalStability("Preprocessor.Transform", out.RawMatrix().Data, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// TransformFrame checks that f was built for the same schema and transforms its rows.
func (p *Preprocessor) TransformFrame(f *dataset.Frame) (*mat.Dense, error) {
	if err := p.schema.Check(f.Schema); err != nil {
		return nil, err
	}
	return p.Transform(f.Rows)
}

// FitTransform fits on f and returns the transformed features.
func (p *Preprocessor) FitTransform(f *dataset.Frame) (*mat.Dense, error) {
	if err := p.Fit(f); err != nil {
		return nil, err
	}
	return p.Transform(f.Rows)
}

// FeatureNames returns the output column names in layout order.
func (p *Preprocessor) FeatureNames() []string {
	names := make([]string, 0, p.NOutputs())
	for _, j := range p.numIdx {
		names = append(names, p.schema.Columns[j].Name)
	}
	if p.encoder != nil {
		catNames := make([]string, len(p.catIdx))
		for k, j := range p.catIdx {
			catNames[k] = p.schema.Columns[j].Name
		}
		names = append(names, p.encoder.FeatureNames(catNames)...)
	}
	return names
}

// ImputeValues returns the fitted fill value per numeric column name.
func (p *Preprocessor) ImputeValues() map[string]float64 {
	out := make(map[string]float64, len(p.numIdx))
	for k, j := range p.numIdx {
		if k < len(p.impute) {
			out[p.schema.Columns[j].Name] = p.impute[k]
		}
	}
	return out
}

type preprocessorState struct {
	Columns []schema.Column
	Impute  []float64
	Scaler  *StandardScaler
	Encoder *OneHotEncoder
	Fitted  bool
	NRows   int
}

// GobEncode implements gob.GobEncoder.
func (p *Preprocessor) GobEncode() ([]byte, error) {
	_, nRows := p.state.GetDimensions()
	st := preprocessorState{
		Columns: p.schema.Columns,
		Impute:  p.impute,
		Scaler:  p.scaler,
		Encoder: p.encoder,
		Fitted:  p.state.IsFitted(),
		NRows:   nRows,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, errors.Wrap(err, "encode preprocessor")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (p *Preprocessor) GobDecode(data []byte) error {
	var st preprocessorState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "decode preprocessor")
	}
	s, err := schema.New(st.Columns...)
	if err != nil {
		return errors.Wrap(err, "decode preprocessor schema")
	}
	*p = *NewPreprocessor(s)
	p.impute = st.Impute
	p.scaler = st.Scaler
	p.encoder = st.Encoder
	if !st.Fitted {
		return nil
	}
	if len(p.numIdx) > 0 && (p.scaler == nil || p.scaler.NFeatures != len(p.numIdx) || len(p.impute) != len(p.numIdx)) {
		return errors.NewValueError("Preprocessor.GobDecode", "numeric state does not match schema")
	}
	if len(p.catIdx) > 0 && (p.encoder == nil || len(p.encoder.Categories) != len(p.catIdx)) {
		return errors.NewValueError("Preprocessor.GobDecode", "categorical state does not match schema")
	}
	p.state.SetFitted(p.NOutputs(), st.NRows)
	return nil
}
