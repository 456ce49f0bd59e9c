// Package httpapi exposes the engine over HTTP: graph registration, run
// start, the resume webhook, stop, and execution queries.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/petrijr/chatflow/internal/persistence"
	"github.com/petrijr/chatflow/pkg/api"
)

// Engine is the engine surface the API needs.
type Engine interface {
	api.Engine
	Flow(ctx context.Context, flowID string) (api.GraphDefinition, error)
}

// Enqueuer hands resume and stop requests to background workers.
type Enqueuer interface {
	EnqueueResume(ctx context.Context, ev api.ResumeEvent) (string, error)
	EnqueueStop(ctx context.Context, executionID string) (string, error)
}

// Config describes a Server.
type Config struct {
	Engine Engine

	// Events serves the event history endpoint. Nil means every run has
	// an empty history.
	Events persistence.EventStore

	// Queue, when set, makes resume and stop asynchronous: the request is
	// enqueued and answered with 202.
	Queue Enqueuer

	Logger *slog.Logger

	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Server routes HTTP requests to the engine.
type Server struct {
	router  chi.Router
	engine  Engine
	events  persistence.EventStore
	queue   Enqueuer
	logger  *slog.Logger
	maxBody int64
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		engine:  cfg.Engine,
		events:  events,
		queue:   cfg.Queue,
		logger:  logger,
		maxBody: maxBody,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps s in an http.Server with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/flows", func(r chi.Router) {
		r.Post("/", s.handleRegisterFlow)
		r.Route("/{flowID}/executions", func(r chi.Router) {
			r.Post("/", s.handleStartExecution)
			r.Post("/{executionID}/resume", s.handleResume)
		})
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/active", s.handleActiveExecutions)
		r.Route("/{executionID}", func(r chi.Router) {
			r.Get("/", s.handleGetExecution)
			r.Get("/events", s.handleListEvents)
			r.Post("/stop", s.handleStop)
		})
	})

	return r
}

// requestLogger logs one line per request with slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
