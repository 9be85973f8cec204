package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/star/tletrack/internal/health"
	"github.com/star/tletrack/internal/httputil"
	"github.com/star/tletrack/internal/metrics"
	"github.com/star/tletrack/internal/ratelimit"
	"github.com/star/tletrack/internal/refresh"
	"github.com/star/tletrack/internal/store"
	"github.com/star/tletrack/internal/tle"
)

// PathPrefix is where the satellite endpoints are mounted.
const PathPrefix = "/satelite"

// Store is the read side of the Telemetry Store used by the handlers.
type Store interface {
	FindByNames(ctx context.Context, names []string) ([]tle.Record, error)
	List(ctx context.Context, offset, limit int) ([]tle.Record, error)
	Count(ctx context.Context) (int, error)
	Meta(ctx context.Context) (store.FeedMeta, error)
	Ping(ctx context.Context) error
}

// Refresher triggers an on-demand refresh cycle.
type Refresher interface {
	RunOnce(ctx context.Context) (refresh.Result, error)
}

// Config holds API configuration.
type Config struct {
	Addr string
	// MaxPageLimit caps the list page size. 0 disables the cap.
	MaxPageLimit int
	// EnableRefresh registers POST /satelite/refresh.
	EnableRefresh bool
	RateLimit     ratelimit.Config
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server. ref may be nil when the refresh
// endpoint is disabled.
func NewServer(cfg Config, logger *slog.Logger, st Store, ref Refresher) *Server {
	h := &handlers{
		store:        st,
		refresher:    ref,
		maxPageLimit: cfg.MaxPageLimit,
		logger:       logger.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.Middleware(cfg.RateLimit, logger))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz(st, logger))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route(PathPrefix, func(r chi.Router) {
		r.Post("/track", h.trackSatellite)
		r.Get("/list", h.listSatellites)
		r.Get("/metadata", h.metadata)
		if cfg.EnableRefresh && ref != nil {
			r.Post("/refresh", h.refresh)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMessage(w, http.StatusNotFound, "Not found.")
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           metrics.Middleware(r),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the root handler including all middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
