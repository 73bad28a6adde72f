package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// UnfittedPipelineError is returned when a preprocessing pipeline is asked to
// transform rows before Fit has frozen its parameters.
type UnfittedPipelineError struct {
	Component string
	Method    string
}

func (e *UnfittedPipelineError) Error() string {
	return fmt.Sprintf("diabeteskit: %s: pipeline is not fitted; call Fit() before %s()", e.Component, e.Method)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *UnfittedPipelineError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("component", e.Component).
		Str("method", e.Method).
		Str("type", "UnfittedPipelineError")
}

// NewUnfittedPipelineError creates an UnfittedPipelineError with a stack trace.
func NewUnfittedPipelineError(component, method string) error {
	return errors.WithStack(&UnfittedPipelineError{Component: component, Method: method})
}

// CandidateFailure describes one candidate that could not be scored.
type CandidateFailure struct {
	Candidate string
	Err       error
}

// SearchExhaustedError is returned when every candidate of a search failed.
type SearchExhaustedError struct {
	Failures []CandidateFailure
}

func (e *SearchExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "diabeteskit: search exhausted: no candidates to evaluate"
	}
	first := e.Failures[0]
	return fmt.Sprintf("diabeteskit: search exhausted: all %d candidates failed (first: %s: %v)",
		len(e.Failures), first.Candidate, first.Err)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *SearchExhaustedError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("failed_candidates", len(e.Failures)).
		Str("type", "SearchExhaustedError")
}

// NewSearchExhaustedError creates a SearchExhaustedError with a stack trace.
func NewSearchExhaustedError(failures []CandidateFailure) error {
	return errors.WithStack(&SearchExhaustedError{Failures: failures})
}

// NoArtifactFoundError is returned when the artifact store holds no artifact.
type NoArtifactFoundError struct {
	Dir string
}

func (e *NoArtifactFoundError) Error() string {
	return fmt.Sprintf("diabeteskit: no artifact found in %q", e.Dir)
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *NoArtifactFoundError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("dir", e.Dir).
		Str("type", "NoArtifactFoundError")
}

// NewNoArtifactFoundError creates a NoArtifactFoundError with a stack trace.
func NewNoArtifactFoundError(dir string) error {
	return errors.WithStack(&NoArtifactFoundError{Dir: dir})
}

// CorruptArtifactError is returned when the located artifact cannot be read
// back. The store never substitutes another artifact in that case.
type CorruptArtifactError struct {
	ID     string
	Path   string
	Reason string
	Err    error
}

func (e *CorruptArtifactError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("diabeteskit: artifact %s (%s) is corrupt: %s: %v", e.ID, e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("diabeteskit: artifact %s (%s) is corrupt: %s", e.ID, e.Path, e.Reason)
}

func (e *CorruptArtifactError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *CorruptArtifactError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("artifact_id", e.ID).
		Str("path", e.Path).
		Str("reason", e.Reason).
		Str("type", "CorruptArtifactError")
}

// NewCorruptArtifactError creates a CorruptArtifactError with a stack trace.
func NewCorruptArtifactError(id, path, reason string, cause error) error {
	return errors.WithStack(&CorruptArtifactError{ID: id, Path: path, Reason: reason, Err: cause})
}

// SchemaMismatchError reports every problem found while aligning a payload to
// a feature schema. Details maps column name to the reason it was rejected.
type SchemaMismatchError struct {
	Unknown []string
	Missing []string
	Details map[string]string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown columns ["+strings.Join(e.Unknown, ", ")+"]")
	}
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required columns ["+strings.Join(e.Missing, ", ")+"]")
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+e.Details[k])
	}
	return "diabeteskit: schema mismatch: " + strings.Join(parts, "; ")
}

// Empty reports whether no problem was recorded.
func (e *SchemaMismatchError) Empty() bool {
	return len(e.Unknown) == 0 && len(e.Missing) == 0 && len(e.Details) == 0
}

// MarshalZerologObject adds the error fields to a zerolog event.
func (e *SchemaMismatchError) MarshalZerologObject(event *zerolog.Event) {
	event.Strs("unknown", e.Unknown).
		Strs("missing", e.Missing).
		Int("invalid", len(e.Details)).
		Str("type", "SchemaMismatchError")
}

// NewSchemaMismatchError creates a SchemaMismatchError with a stack trace.
// The column lists are sorted so the message is stable.
func NewSchemaMismatchError(unknown, missing []string, details map[string]string) error {
	u := append([]string(nil), unknown...)
	m := append([]string(nil), missing...)
	sort.Strings(u)
	sort.Strings(m)
	return errors.WithStack(&SchemaMismatchError{Unknown: u, Missing: m, Details: details})
}
