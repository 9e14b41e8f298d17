// Package api exposes the admin HTTP interface: health, metrics, and
// read-only views over the governance state, plus the provenance purge
// maintenance endpoint.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinoscout/sourcegate/internal/policy/circuit"
	"github.com/vinoscout/sourcegate/internal/policy/robots"
	"github.com/vinoscout/sourcegate/internal/policy/semaphore"
	"github.com/vinoscout/sourcegate/internal/provenance"
	"github.com/vinoscout/sourcegate/internal/telemetry"
)

// Server wires HTTP handlers to the governance services.
type Server struct {
	router   chi.Router
	circuits *circuit.Registry
	robots   *robots.Governor
	ledger   *provenance.Ledger
	sem      *semaphore.Semaphore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(circuits *circuit.Registry, robotsGov *robots.Governor, ledger *provenance.Ledger, sem *semaphore.Semaphore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		circuits: circuits,
		robots:   robotsGov,
		ledger:   ledger,
		sem:      sem,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/circuits", s.getCircuits)
		r.Get("/semaphore", s.getSemaphore)
		r.Route("/robots", func(r chi.Router) {
			r.Get("/check", s.checkRobots)
			r.Get("/sitemaps", s.getSitemaps)
		})
		r.Post("/provenance/purge", s.purgeProvenance)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getCircuits(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"circuits": s.circuits.Snapshot()})
}

func (s *Server) getSemaphore(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sem.Stats())
}

func (s *Server) checkRobots(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	path := r.URL.Query().Get("path")
	if domain == "" || path == "" {
		s.writeError(w, http.StatusBadRequest, "domain and path query parameters are required")
		return
	}
	decision, err := s.robots.IsPathAllowed(r.Context(), domain, path)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"domain":         domain,
		"path":           path,
		"allowed":        decision.Allowed,
		"crawl_delay_ms": decision.CrawlDelay.Milliseconds(),
		"reason":         decision.Reason,
	})
}

func (s *Server) getSitemaps(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain query parameter is required")
		return
	}
	sitemaps, err := s.robots.Sitemaps(r.Context(), domain)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "sitemaps": sitemaps})
}

func (s *Server) purgeProvenance(w http.ResponseWriter, r *http.Request) {
	removed, err := s.ledger.PurgeExpired(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
