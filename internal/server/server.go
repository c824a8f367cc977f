package server

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/time/rate"

	"github.com/Alias1177/equiloom/internal/api"
	"github.com/Alias1177/equiloom/internal/config"
	"github.com/Alias1177/equiloom/internal/session"
)

//go:embed static/*
var staticFS embed.FS

// Server holds all the components for the web application
type Server struct {
	cfg        config.Config
	httpServer *http.Server
	router     *mux.Router
	sessions   *session.Manager
	logger     zerolog.Logger
}

// New creates a new Server with all routes registered
func New(cfg config.Config, sessions *session.Manager, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		sessions: sessions,
		logger:   logger.With().Str("component", "http").Logger(),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() error {
	s.router.Use(
		hlog.NewHandler(s.logger),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Debug().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request")
		}),
	)

	// API routes
	var limiter *api.SubmitLimiter
	if s.cfg.SubmitRate > 0 {
		var err error
		limiter, err = api.NewSubmitLimiter(rate.Limit(s.cfg.SubmitRate), s.cfg.SubmitBurst)
		if err != nil {
			return fmt.Errorf("creating submit limiter: %w", err)
		}
	}
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	api.NewHandler(s.sessions, limiter, s.cfg).RegisterRoutes(apiRouter)

	// Landing page (embedded)
	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return fmt.Errorf("loading embedded page: %w", err)
	}
	s.router.PathPrefix("/").Handler(http.FileServer(http.FS(staticContent))).Methods("GET", "HEAD")
	return nil
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP connections
func (s *Server) Start() error {
	s.logger.Info().Msgf("Server listening on http://localhost:%d", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
