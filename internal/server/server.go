// Package server exposes a counter over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhalm/ratecount"
	"github.com/nhalm/ratecount/internal/config"
	"github.com/nhalm/ratecount/store"
)

// Pinger is implemented by counters that can check their store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketReader is implemented by counters that can list a day's counters.
type BucketReader interface {
	Bucket(ctx context.Context, day string) (store.Bucket, error)
	Location() *time.Location
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	counter  store.Counter
	cfg      config.ServerConfig
	logger   *zap.Logger
	clock    store.Clock
	instance string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the process logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used to report window ends for counters that do not
// report their window themselves.
func WithClock(clock store.Clock) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

var errMethodNotAllowed = &ratecount.APIError{
	Type:    "request_error",
	Code:    "method_not_allowed",
	Message: "Method not allowed",
	Status:  http.StatusMethodNotAllowed,
}

// New creates a server counting into counter.
func New(counter store.Counter, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		counter:  counter,
		cfg:      cfg,
		logger:   zap.NewNop(),
		clock:    store.SystemClock,
		instance: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(ratecount.Handler(
		ratecount.WithCanonlog(),
		ratecount.WithCanonlogFields(func(r *http.Request) map[string]any {
			return map[string]any{
				"request_id": GetRequestID(r.Context()),
				"instance":   s.instance,
			}
		}),
	))

	r.NotFound(func(_ http.ResponseWriter, r *http.Request) {
		ratecount.SetError(r, ratecount.ErrNotFound)
	})
	r.MethodNotAllowed(func(_ http.ResponseWriter, r *http.Request) {
		ratecount.SetError(r, errMethodNotAllowed)
	})

	s.router = r
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/counters/{key}/increase", s.handleIncrease)
		r.Get("/buckets/{day}", s.handleBucket)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.cfg.Addr),
		zap.String("instance", s.instance))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing
func (s *Server) Handler() http.Handler {
	return s.router
}

// Instance returns the id this server adds to its log lines.
func (s *Server) Instance() string {
	return s.instance
}
