// Package api serves the chat repository over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/poiesic/chatkeep/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log            *slog.Logger
	repo           storage.ChatRepository
	pinger         Pinger
	allowedOrigins []string
	srv            *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithAllowedOrigins sets the origins allowed by CORS. Default is "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithAddr sets the listen address. Default is ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.srv.Addr = addr
		}
	}
}

// NewServer creates a server exposing repo. pinger backs /healthz.
func NewServer(repo storage.ChatRepository, pinger Pinger, opts ...Option) *Server {
	s := &Server{
		log:            slog.Default(),
		repo:           repo,
		pinger:         pinger,
		allowedOrigins: []string{"*"},
		srv: &http.Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, NewNotFoundError(""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, &ApiError{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    lower(http.StatusText(http.StatusMethodNotAllowed)),
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.healthz)

	r.Put("/room", s.createRoom)
	r.Get("/room/{roomId}", s.getRoom)
	r.Put("/messages", s.addMessages)
	r.Get("/room/{roomId}/messages/{start}/{end}", s.getMessages)
	r.Get("/room/{roomId}/long-pauses/{start}/{end}", s.countLongPauses)

	return handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(s.allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "If-None-Match"}),
		handlers.ExposedHeaders([]string{"ETag"}),
	)(r)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("starting server", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}
