// Package api exposes the HTTP interface for the directory service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
	"github.com/localpages/directory/internal/ingest"
	"github.com/localpages/directory/internal/metrics"
	"github.com/localpages/directory/internal/progress"
	"github.com/localpages/directory/internal/query"
	"github.com/localpages/directory/internal/stats"
)

// Server wires HTTP handlers to the query engine, aggregator and
// orchestrator.
type Server struct {
	router     chi.Router
	engine     *query.Engine
	aggregator *stats.Aggregator
	store      directory.Store
	orch       *ingest.Orchestrator
	tracker    *progress.Tracker
	clock      directory.Clock
	logger     *zap.Logger

	// baseCtx outlives individual requests so an ingestion batch survives
	// a streaming client that disconnects mid-run.
	baseCtx context.Context

	batchMu  sync.Mutex
	batchSeq int
}

// NewServer constructs a Server with middleware and routes. orch may be nil
// when ingestion is not configured; the ingest endpoint then reports so.
func NewServer(
	baseCtx context.Context,
	engine *query.Engine,
	aggregator *stats.Aggregator,
	store directory.Store,
	orch *ingest.Orchestrator,
	tracker *progress.Tracker,
	clock directory.Clock,
	logger *zap.Logger,
) *Server {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:     engine,
		aggregator: aggregator,
		store:      store,
		orch:       orch,
		tracker:    tracker,
		clock:      clock,
		logger:     logger,
		baseCtx:    baseCtx,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/businesses", s.listBusinesses)
	r.Post("/businesses", s.upsertBusiness)
	r.Get("/stats", s.getStats)
	r.Post("/stats/refresh", s.refreshStats)
	r.Post("/ingest", s.runIngest)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context(), directory.Filter{})
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "degraded",
			"database": "down",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"database":      "up",
		"businessCount": count,
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
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
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
