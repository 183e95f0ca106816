// Package server provides the HTTP API for LumiMind.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/app"
	"github.com/hyperjump/lumimind/internal/config"
	"github.com/hyperjump/lumimind/internal/models"
)

// CorpusWatcher reports the corpus directories being watched.
type CorpusWatcher interface {
	Corpora() map[string]models.Domain
}

// Server is the HTTP server for the LumiMind API.
type Server struct {
	c       *app.Components
	config  *config.ServerConfig
	logger  *zap.Logger
	watch   CorpusWatcher
	version string
	started time.Time
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher exposes the corpus watcher in status output.
func WithWatcher(w CorpusWatcher) Option {
	return func(s *Server) { s.watch = w }
}

// WithVersion sets the version reported by the status endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server over the wired components.
func NewServer(c *app.Components, cfg *config.ServerConfig, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{c: c, config: cfg, logger: logger, version: "dev", started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/turns", s.handleTurn)
		r.Get("/scenarios", s.handleScenarios)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleResetSession)
			r.Put("/consent", s.handleConsent)
			r.Post("/roleplay", s.handleStartRolePlay)
		})
		r.Get("/collections", s.handleCollections)
		r.Route("/collections/{name}", func(r chi.Router) {
			r.Post("/ingest", s.handleIngest)
			r.Post("/query", s.handleQuery)
			r.Post("/reset", s.handleResetCollection)
		})
		r.Post("/crisis/check", s.handleCrisisCheck)
		r.Post("/crisis/reload", s.handleCrisisReload)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

const requestIDHeader = "X-Request-ID"

// requestID tags every request with a UUID, keeping one supplied by the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs method, route, status and latency. Bodies are never logged.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", w.Header().Get(requestIDHeader)))
	})
}
