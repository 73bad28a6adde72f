// Package server exposes the inference adapter over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/diabeteskit/artifact"
	"github.com/YuminosukeSato/diabeteskit/inference"
	"github.com/YuminosukeSato/diabeteskit/pkg/errors"
	"github.com/YuminosukeSato/diabeteskit/pkg/log"
)

// Server defaults.
const (
	DefaultRequestTimeout = 5 * time.Second
	MaxBodyBytes          = 1 << 20
	shutdownTimeout       = 10 * time.Second
)

// ErrNoSource is returned by Reload on a server built without a source. It
// is a configuration fault, not a bad request.
var ErrNoSource = errors.New("no artifact source configured")

// Server serves predictions from an adapter and reloads its handle from a
// source of artifacts.
type Server struct {
	adapter        *inference.Adapter
	source         artifact.Source
	metrics        *Metrics
	logger         log.Logger
	requestTimeout time.Duration
	reloadInterval time.Duration
	startTime      time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics the server records into.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRequestTimeout bounds the time spent on each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithReloadInterval makes Serve refresh the handle from the source every d.
// Zero disables periodic reloads.
func WithReloadInterval(d time.Duration) Option {
	return func(s *Server) { s.reloadInterval = d }
}

// New creates a server. source is used by /reload and the periodic reload.
func New(adapter *inference.Adapter, source artifact.Source, opts ...Option) *Server {
	s := &Server{
		adapter:        adapter,
		source:         source,
		requestTimeout: DefaultRequestTimeout,
		startTime:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("Server")
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	return s
}

// Handler returns the routed handler with request logging and the request
// timeout applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.index)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.HandleFunc("POST /predict", s.predict)
	mux.HandleFunc("POST /reload", s.reload)
	mux.Handle("GET /metrics", s.metrics.Handler())

	timeout := http.TimeoutHandler(mux, s.requestTimeout, `{"error":"request timed out"}`)
	return s.logRequests(timeout)
}

// Reload refreshes the handle from the source and records the result.
func (s *Server) Reload(ctx context.Context) (bool, error) {
	if s.source == nil {
		return false, ErrNoSource
	}
	changed, err := s.adapter.Handle().Refresh(ctx, s.source)
	switch {
	case err != nil:
		s.metrics.reloads.WithLabelValues(reloadError).Inc()
		s.logger.Warn("Artifact reload failed", err, log.OperationKey, log.OperationLoad)
	case changed:
		s.metrics.reloads.WithLabelValues(reloadChanged).Inc()
		s.logger.Info("Artifact loaded",
			log.OperationKey, log.OperationLoad,
			log.PhaseKey, log.PhaseLoaded,
			log.ArtifactIDKey, s.adapter.Handle().Current().ID,
		)
	default:
		s.metrics.reloads.WithLabelValues(reloadUnchanged).Inc()
	}
	return changed, err
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// If a reload interval is set, the handle is refreshed in the background.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.requestTimeout,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if s.reloadInterval > 0 {
		go s.reloadLoop(ctx)
	}
	s.logger.Info("Server listening",
		log.AddrKey, ln.Addr().String(),
		log.PhaseKey, log.PhaseServing,
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

func (s *Server) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Reload(ctx)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug("Request served",
			log.RequestIDKey, id,
			log.MethodKey, r.Method,
			log.RouteKey, r.URL.Path,
			log.StatusKey, rec.status,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	})
}
