package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/YuminosukeSato/diabeteskit/inference"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
)

// WelcomeMessage is returned by GET /.
const WelcomeMessage = "Welcome to the Diabetes Prediction Model API!"

// PredictRequest is the body of POST /predict. Exactly one of Features (one
// prediction) or Instances (a batch) must be set.
type PredictRequest struct {
	Features  inference.Payload   `json:"features"`
	Instances []inference.Payload `json:"instances,omitempty"`
}

// BatchResponse is the response to a batch request.
type BatchResponse struct {
	Predictions []inference.Result `json:"predictions"`
	ArtifactID  string             `json:"artifact_id"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to the HTTP status and the prediction outcome label.
func statusOf(err error) (int, string) {
	var (
		mismatch *errors.SchemaMismatchError
		missing  *errors.NoArtifactFoundError
		corrupt  *errors.CorruptArtifactError
		tooLarge *http.MaxBytesError
		invalid  *errors.ValueError
	)
	switch {
	case errors.As(err, &mismatch), errors.As(err, &invalid):
		return http.StatusBadRequest, outcomeInvalid
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, outcomeInvalid
	case errors.As(err, &missing), errors.As(err, &corrupt):
		return http.StatusServiceUnavailable, outcomeUnavailable
	default:
		return http.StatusInternalServerError, outcomeError
	}
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	var mismatch *errors.SchemaMismatchError
	if errors.As(err, &mismatch) {
		resp.Details = map[string]any{}
		if len(mismatch.Unknown) > 0 {
			resp.Details["unknown"] = mismatch.Unknown
		}
		if len(mismatch.Missing) > 0 {
			resp.Details["missing"] = mismatch.Missing
		}
		if len(mismatch.Details) > 0 {
			resp.Details["invalid"] = mismatch.Details
		}
	}
	return resp
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"message": WelcomeMessage}
	if b := s.adapter.Handle().Current(); b != nil {
		resp["artifact_id"] = b.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	b := s.adapter.Handle().Current()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"artifact_id": b.ID,
		"family":      b.Family,
		"cv_score":    b.CVScore,
	})
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := outcomeOK
	defer func() {
		s.metrics.predictions.WithLabelValues(outcome).Inc()
		s.metrics.duration.Observe(time.Since(start).Seconds())
	}()

	fail := func(status int, label string, resp ErrorResponse) {
		outcome = label
		writeJSON(w, status, resp)
	}

	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		if status, label := statusOf(err); status == http.StatusRequestEntityTooLarge {
			fail(status, label, ErrorResponse{Error: "request body too large"})
			return
		}
		fail(http.StatusBadRequest, outcomeInvalid, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if dec.More() {
		fail(http.StatusBadRequest, outcomeInvalid, ErrorResponse{Error: "invalid JSON: trailing data"})
		return
	}

	switch {
	case req.Features != nil && req.Instances != nil:
		fail(http.StatusBadRequest, outcomeInvalid, ErrorResponse{Error: "set either 'features' or 'instances', not both"})
	case req.Instances != nil:
		results, err := s.adapter.PredictBatch(r.Context(), req.Instances)
		if err != nil {
			status, label := statusOf(err)
			fail(status, label, errorResponse(err))
			return
		}
		writeJSON(w, http.StatusOK, BatchResponse{Predictions: results, ArtifactID: results[0].ArtifactID})
	case req.Features != nil:
		res, err := s.adapter.Predict(r.Context(), req.Features)
		if err != nil {
			status, label := statusOf(err)
			fail(status, label, errorResponse(err))
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		fail(http.StatusBadRequest, outcomeInvalid, ErrorResponse{Error: "no 'features' key in input data"})
	}
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	changed, err := s.Reload(r.Context())
	if err != nil {
		status, _ := statusOf(err)
		writeJSON(w, status, errorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":     changed,
		"artifact_id": s.adapter.Handle().Current().ID,
	})
}
