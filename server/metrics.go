package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prediction outcomes, used as the "outcome" label.
const (
	outcomeOK          = "ok"
	outcomeInvalid     = "invalid"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

// Reload results, used as the "result" label.
const (
	reloadChanged   = "changed"
	reloadUnchanged = "unchanged"
	reloadError     = "error"
)

// Metrics holds the serving metrics on a private registry, so several
// servers (and tests) never collide on registration.
type Metrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	duration    prometheus.Histogram
	reloads     *prometheus.CounterVec
}

// NewMetrics creates and registers the serving metrics plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diabeteskit_predictions_total",
			Help: "Prediction requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "diabeteskit_predict_duration_seconds",
			Help:    "Latency of prediction requests.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diabeteskit_artifact_reloads_total",
			Help: "Artifact reload attempts by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.predictions,
		m.duration,
		m.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, o := range []string{outcomeOK, outcomeInvalid, outcomeUnavailable, outcomeError} {
		m.predictions.WithLabelValues(o)
	}
	for _, r := range []string{reloadChanged, reloadUnchanged, reloadError} {
		m.reloads.WithLabelValues(r)
	}
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
