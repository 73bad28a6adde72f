package inference

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/dataset"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/preprocessing"
	"github.com/YuminosukeSato/diabeteskit/schema"
	"github.com/YuminosukeSato/diabeteskit/sklearn/linear_model"
	"github.com/YuminosukeSato/diabeteskit/sklearn/pipeline"
)

func testSchema() *schema.Schema {
	return schema.MustNew(
		schema.Column{Name: "age", Kind: schema.Numeric},
		schema.Column{Name: "glucose", Kind: schema.Numeric, Required: true},
		schema.Column{Name: "smoker", Kind: schema.Categorical},
	)
}

func testBundle(t *testing.T) (*artifact.Bundle, *dataset.Frame) {
	t.Helper()
	f, err := dataset.Synthetic(testSchema(), 80, 3)
	require.NoError(t, err)
	p := pipeline.New(preprocessing.NewPreprocessor(f.Schema), linear_model.NewLogisticRegression())
	require.NoError(t, p.Fit(f))
	return &artifact.Bundle{ID: "20240101000000.000000", Family: "LogisticRegression", Pipeline: p}, f
}

func mismatch(t *testing.T, err error) *errors.SchemaMismatchError {
	t.Helper()
	var sme *errors.SchemaMismatchError
	require.True(t, errors.As(err, &sme), "expected SchemaMismatchError, got %v", err)
	return sme
}

func TestAlign(t *testing.T) {
	s := testSchema()

	row, err := Align(s, Payload{"smoker": "never", "glucose": 140, "age": 51.5})
	require.NoError(t, err)
	assert.Equal(t, schema.Row{schema.Num(51.5), schema.Num(140), schema.Cat("never")}, row)

	row, err = Align(s, Payload{"glucose": json.Number("99.5"), "age": nil})
	require.NoError(t, err)
	assert.True(t, row[0].Missing, "null is missing")
	assert.Equal(t, 99.5, row[1].Num)
	assert.True(t, row[2].Missing, "absent optional is missing")
}

func TestAlign_Mismatch(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name    string
		payload Payload
		unknown []string
		missing []string
		details []string
	}{
		{"unknown columns", Payload{"glucose": 1, "zip": "x", "bmi": 3}, []string{"bmi", "zip"}, nil, nil},
		{"missing required", Payload{"age": 30}, nil, []string{"glucose"}, nil},
		{"null required", Payload{"glucose": nil}, nil, []string{"glucose"}, nil},
		{"numeric as string", Payload{"glucose": "high"}, nil, nil, []string{"glucose"}},
		{"categorical as number", Payload{"glucose": 1, "smoker": 1}, nil, nil, []string{"smoker"}},
		{"not finite", Payload{"glucose": math.Inf(1)}, nil, nil, []string{"glucose"}},
		{"bad json number", Payload{"glucose": json.Number("1e")}, nil, nil, []string{"glucose"}},
		{"everything", Payload{"age": true, "extra": 1}, []string{"extra"}, []string{"glucose"}, []string{"age"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Align(s, tt.payload)
			sme := mismatch(t, err)
			assert.Equal(t, tt.unknown, sme.Unknown)
			assert.Equal(t, tt.missing, sme.Missing)
			for _, col := range tt.details {
				assert.Contains(t, sme.Details, col)
			}
			assert.Len(t, sme.Details, len(tt.details))
		})
	}
}

func TestPredict(t *testing.T) {
	b, f := testBundle(t)

	res, err := Predict(Payload{"glucose": 150, "age": 60, "smoker": "current"}, b)
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, res.Label)
	require.NotNil(t, res.Probability)
	assert.GreaterOrEqual(t, *res.Probability, 0.0)
	assert.LessOrEqual(t, *res.Probability, 1.0)
	assert.Equal(t, b.ID, res.ArtifactID)

	// missing optional column and unseen category use the fitted defaults
	_, err = Predict(Payload{"glucose": 150, "smoker": "sometimes"}, b)
	assert.NoError(t, err)

	_, err = Predict(Payload{"glucose": 150, "height": 180}, b)
	mismatch(t, err)

	// the label matches the pipeline on the same training row
	want, err := b.Pipeline.Predict(f.Rows[:1])
	require.NoError(t, err)
	payload := Payload{}
	for j, col := range f.Schema.Columns {
		v := f.Rows[0][j]
		switch {
		case v.Missing:
		case col.Kind == schema.Numeric:
			payload[col.Name] = v.Num
		default:
			payload[col.Name] = v.Cat
		}
	}
	res, err = Predict(payload, b)
	require.NoError(t, err)
	assert.Equal(t, want[0], res.Label)
}

func TestPredictBatch(t *testing.T) {
	b, _ := testBundle(t)
	results, err := PredictBatch([]Payload{
		{"glucose": 90},
		{"glucose": 250, "age": 70},
	}, b)
	require.NoError(t, err)
	require.Len(t, results, 2)

	_, err = PredictBatch([]Payload{{"glucose": 90}, {"age": 1}}, b)
	mismatch(t, err)
	assert.Contains(t, err.Error(), "payload 1")

	_, err = PredictBatch(nil, b)
	assert.Error(t, err)
}

func TestAdapter(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelError)
	h := artifact.NewHandle(nil)
	a := NewAdapter(h, logger)
	ctx := context.Background()

	assert.False(t, a.Ready())
	_, err := a.Predict(ctx, Payload{"glucose": 100})
	var nf *errors.NoArtifactFoundError
	require.True(t, errors.As(err, &nf))

	b, _ := testBundle(t)
	h.Swap(b)
	assert.True(t, a.Ready())

	res, err := a.Predict(ctx, Payload{"glucose": 100})
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.ArtifactID)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = a.Predict(cancelled, Payload{"glucose": 100})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdapter_Concurrent(t *testing.T) {
	b, _ := testBundle(t)
	a := NewAdapter(artifact.NewHandle(b), nil)
	want, err := Predict(Payload{"glucose": 180, "age": 45}, b)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, err := a.Predict(context.Background(), Payload{"glucose": 180, "age": 45})
				if err != nil {
					t.Error(err)
					return
				}
				if got.Label != want.Label || *got.Probability != *want.Probability {
					t.Errorf("concurrent prediction differs: %+v vs %+v", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload([]byte(`{"features": {"glucose": 120.5, "smoker": "never"}}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("120.5"), p["glucose"])

	row, err := Align(testSchema(), p)
	require.NoError(t, err)
	assert.Equal(t, 120.5, row[1].Num)

	p, err = DecodePayload([]byte(`{"glucose": 99}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("99"), p["glucose"])

	_, err = DecodePayload([]byte(`[1, 2]`))
	assert.Error(t, err)
}
