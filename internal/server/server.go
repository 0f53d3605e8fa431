package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/drover/internal/app"
)

// Server manages the HTTP server and routes
type Server struct {
	app      *app.App
	router   *http.ServeMux
	server   *http.Server
	limiters *workerLimiters
}

// New creates a new HTTP server with the given app
func New(application *app.App) *Server {
	s := &Server{
		app:      application,
		limiters: newWorkerLimiters(application.Config.Workers.RateLimit, application.Config.Workers.RateBurst),
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Job delivery may wait on scenario generation
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.withConditionalMiddleware(s.router)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
