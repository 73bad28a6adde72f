package inference

import (
	"context"
	"time"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
	"github.com/YuminosukeSato/diabeteskit/schema"
)

// Result is the outcome of one prediction, whatever the model family.
type Result struct {
	Label       int      `json:"prediction"`
	Probability *float64 `json:"probability,omitempty"`
	ArtifactID  string   `json:"artifact_id"`
}

// Predict aligns payload to the schema of b and runs its pipeline. b is only
// read, so concurrent calls may share it.
func Predict(payload Payload, b *artifact.Bundle) (Result, error) {
	results, err := PredictBatch([]Payload{payload}, b)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// PredictBatch predicts every payload with one transform. If any payload
// fails to align, nothing is predicted and the error names its index.
func PredictBatch(payloads []Payload, b *artifact.Bundle) ([]Result, error) {
	if b == nil || b.Pipeline == nil {
		return nil, errors.NewNoArtifactFoundError("")
	}
	if len(payloads) == 0 {
		return nil, errors.NewValueError("inference.PredictBatch", "no payloads")
	}
	s := b.Schema()
	rows := make([]schema.Row, len(payloads))
	for i, p := range payloads {
		row, err := Align(s, p)
		if err != nil {
			if len(payloads) == 1 {
				return nil, err
			}
			return nil, errors.Wrapf(err, "payload %d", i)
		}
		rows[i] = row
	}

	labels, proba, err := b.Pipeline.PredictWithProba(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(rows))
	for i := range out {
		p := proba[i]
		out[i] = Result{Label: labels[i], Probability: &p, ArtifactID: b.ID}
	}
	return out, nil
}

// Adapter serves predictions from whatever bundle its handle currently holds.
type Adapter struct {
	handle *artifact.Handle
	logger log.Logger
}

// NewAdapter creates an adapter over h.
func NewAdapter(h *artifact.Handle, logger log.Logger) *Adapter {
	if logger == nil {
		logger = log.GetLoggerWithName("InferenceAdapter")
	}
	return &Adapter{handle: h, logger: logger}
}

// Handle returns the handle the adapter reads from.
func (a *Adapter) Handle() *artifact.Handle { return a.handle }

// Ready reports whether a bundle is loaded.
func (a *Adapter) Ready() bool { return a.handle.Current() != nil }

// Predict predicts one payload with the current bundle.
func (a *Adapter) Predict(ctx context.Context, payload Payload) (Result, error) {
	results, err := a.PredictBatch(ctx, []Payload{payload})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// PredictBatch predicts payloads with the current bundle. The bundle is read
// once, so every result of a batch comes from the same artifact.
func (a *Adapter) PredictBatch(ctx context.Context, payloads []Payload) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := a.handle.Current()
	if b == nil {
		return nil, errors.NewNoArtifactFoundError("")
	}

	start := time.Now()
	results, err := PredictBatch(payloads, b)
	if err != nil {
		a.logger.Debug("Prediction rejected", err,
			log.OperationKey, log.OperationPredict,
			log.ArtifactIDKey, b.ID,
		)
		return nil, err
	}
	a.logger.Debug("Prediction served",
		log.OperationKey, log.OperationPredict,
		log.PhaseKey, log.PhaseServing,
		log.ArtifactIDKey, b.ID,
		log.SamplesKey, len(results),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return results, nil
}
