package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/star/fpgeom/internal/auth"
	"github.com/star/fpgeom/internal/batch"
	"github.com/star/fpgeom/internal/health"
	"github.com/star/fpgeom/internal/metrics"
	"github.com/star/fpgeom/internal/snapshot"
)

// Config holds HTTP server settings.
type Config struct {
	Addr string
	Auth auth.Config
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a trusted reverse proxy.
	TrustProxy bool
	// MaxBatchPoints caps the points accepted by one batch locate request.
	MaxBatchPoints int
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	store      *snapshot.Store
	cache      *snapshot.Cache
	pool       *batch.Pool
	maxBatch   int
}

// NewServer creates a configured HTTP server. cache may be nil, in which case
// registry replacements are not persisted.
func NewServer(cfg Config, logger *slog.Logger, store *snapshot.Store, cache *snapshot.Cache, pool *batch.Pool) *Server {
	s := &Server{
		logger:   logger,
		store:    store,
		cache:    cache,
		pool:     pool,
		maxBatch: cfg.MaxBatchPoints,
	}
	if s.maxBatch <= 0 {
		s.maxBatch = 100_000
	}

	// Middleware chain: metrics -> real ip -> request id -> logging -> recover -> auth -> routes.
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(auth.Middleware(cfg.Auth))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz(store))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/variants", s.handleVariants)
		r.Route("/{variant}", func(r chi.Router) {
			r.Get("/sensors", s.handleSensors)
			r.Get("/sensors/{id}", s.handleSensor)
			r.Get("/sensors/{id}/physical", s.handlePhysical)
			r.Get("/sensors/{id}/pixel", s.handlePixel)
			r.Get("/sensors/{id}/zernike", s.handleZernike)
			r.Get("/locate", s.handleLocate)
			r.Post("/locate/batch", s.handleLocateBatch)
			r.Get("/registry", s.handleGetRegistry)
			r.Put("/registry", s.handlePutRegistry)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"request_id", requestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
