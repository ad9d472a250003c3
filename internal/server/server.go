package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/straja-ai/postscore/internal/config"
	"github.com/straja-ai/postscore/internal/events"
	"github.com/straja-ai/postscore/internal/pipeline"
	"github.com/straja-ai/postscore/internal/provider"
	"github.com/straja-ai/postscore/internal/redact"
	"github.com/straja-ai/postscore/internal/telemetry"
)

// RequestIDHeader carries the per-request identifier on every response.
const RequestIDHeader = "X-Postscore-Request-Id"

// Server wraps the HTTP server components for postscore.
type Server struct {
	mux       *http.ServeMux
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	telemetry *telemetry.Provider
	observer  pipeline.Observer
}

// Options carries the collaborators built at startup.
type Options struct {
	Resolver  provider.Resolver
	Telemetry *telemetry.Provider
	// Observer receives every finished or rejected analysis; may be nil.
	Observer pipeline.Observer
}

func New(cfg *config.Config, opts Options) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		cfg:       cfg,
		telemetry: opts.Telemetry,
		observer:  opts.Observer,
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.Noop()
	}
	s.pipeline = pipeline.New(opts.Resolver, s.telemetry, observerFunc(s.observe))

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /api/analyze/stream", s.handleAnalyzeStream)
	return s
}

// Handler returns the root handler with request ids and tracing applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestContext(s.mux)
}

// Start serves on cfg.Server.Addr until ctx is done, then shuts down
// gracefully within server.shutdown_timeout.
func (s *Server) Start(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("postscore listening on %s (model=%s production=%t)", s.cfg.Server.Addr, s.cfg.Model.Name, s.cfg.Server.Production)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	case <-ctx.Done():
	}

	log.Printf("postscore shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *Server) withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set(RequestIDHeader, requestID)

		ctx := events.WithRequestID(r.Context(), requestID)
		ctx, span := s.telemetry.Tracer().Start(ctx, "postscore.request",
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
				attribute.String("postscore.request_id", requestID),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records metrics and span attributes, then forwards to the
// configured observer.
func (s *Server) observe(ctx context.Context, rep pipeline.Report) {
	s.telemetry.RecordRequestMetrics(ctx, string(rep.Mode), string(rep.Outcome), string(rep.Code), durationMillis(rep.Duration))

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(telemetry.SafeAttributes(map[string]interface{}{
		"postscore.mode":       string(rep.Mode),
		"postscore.outcome":    string(rep.Outcome),
		"postscore.locale":     string(rep.Locale),
		"postscore.graphemes":  rep.Graphemes,
		"postscore.custom_key": rep.CustomKey,
		"postscore.chunks":     rep.Chunks,
	})...)
	if rep.Code != "" {
		span.SetStatus(codes.Error, string(rep.Code))
	}

	redact.Logf("analysis request_id=%s mode=%s outcome=%s code=%s locale=%s graphemes=%d chunks=%d latency_ms=%.1f",
		events.RequestID(ctx), rep.Mode, rep.Outcome, rep.Code, rep.Locale, rep.Graphemes, rep.Chunks, durationMillis(rep.Duration))

	if s.observer != nil {
		s.observer.Observe(ctx, rep)
	}
}

type observerFunc func(context.Context, pipeline.Report)

func (f observerFunc) Observe(ctx context.Context, rep pipeline.Report) { f(ctx, rep) }

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
