// Package http serves the budget and mobility results as a read-only JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"presupuesto/internal/core"
	"presupuesto/internal/ingest"
	"presupuesto/internal/log"
	"presupuesto/internal/middleware/ratelimit"
	"presupuesto/internal/middleware/security"
	"presupuesto/internal/middleware/trace"
)

// Service is the engine surface exposed over HTTP.
type Service interface {
	Budget(ctx context.Context) core.BudgetModel
	Mobility(ctx context.Context) core.MobilityView
	Sources() []ingest.SourceInfo
}

type Options struct {
	RateLimitRPS   int
	RateLimitBurst int
	Logger         *log.Logger
}

type Server struct {
	http.Server
	svc      Service
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	ready        atomic.Bool
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
// Readiness stays false until MarkReady is called.
func NewServer(addr string, svc Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		svc:      svc,
		detector: security.NewDetector(),
		logger:   logger.WithComponent(log.ComponentHTTP),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: opts.RateLimitRPS,
			Burst:             opts.RateLimitBurst,
		}),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	api := func(h http.HandlerFunc) http.Handler {
		return s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /api/v1/budget", api(s.handleBudget))
	mux.Handle("GET /api/v1/budget/categories/{id}", api(s.handleBudgetCategory))
	mux.Handle("GET /api/v1/mobility", api(s.handleMobility))
	mux.Handle("GET /api/v1/sources", api(s.handleSources))
	mux.HandleFunc("GET /", s.handleNotFound)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(s.detector.Middleware(headers.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		// A cold request may walk every candidate source.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	return s
}

// MarkReady flips /readyz to 200, typically after the first warm-up run.
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.ready.Store(false)
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("warming up"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
