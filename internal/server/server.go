// Package server provides the read-only HTTP inspection surface for the
// sync engine: scheduler status, provider budget, cooldowns and the gap ledger.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/gapfill/internal/budget"
	"github.com/aristath/gapfill/internal/domain"
	"github.com/aristath/gapfill/internal/ratelimit"
)

// UsageReporter exposes the primary provider budget.
type UsageReporter interface {
	Summary() budget.Summary
}

// ThrottleReporter exposes the cooldown tracker.
type ThrottleReporter interface {
	Status() ratelimit.Status
}

// GapReader exposes the gap ledger read side.
type GapReader interface {
	Counts(ctx context.Context) (map[string]int, error)
	GetWaiting(ctx context.Context) ([]domain.GapRecord, error)
	GetRetryReady(ctx context.Context, limit int) ([]domain.GapRecord, error)
}

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Port       int
	StatusPath string // scheduler status file
	Usage      UsageReporter
	Throttle   ThrottleReporter
	Gaps       GapReader
	DevMode    bool
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	port       int
	statusPath string
	usage      UsageReporter
	throttle   ThrottleReporter
	gaps       GapReader
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		port:       cfg.Port,
		statusPath: cfg.StatusPath,
		usage:      cfg.Usage,
		throttle:   cfg.Throttle,
		gaps:       cfg.Gaps,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/usage", s.handleUsage)
		r.Get("/ratelimits", s.handleRateLimits)

		r.Route("/gaps", func(r chi.Router) {
			r.Get("/", s.handleGapCounts)
			r.Get("/waiting", s.handleWaitingGaps)
			r.Get("/retry-ready", s.handleRetryReadyGaps)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
