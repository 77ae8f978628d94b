// Package web serves the attendance HTTP API: health, matching, enrollment,
// attendance queries, camera control and the diagnostic stream.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// requestTimeout bounds every request except the diagnostic stream.
const requestTimeout = time.Minute

// Server represents the web server
type Server struct {
	config     *config.Config
	svc        *service.Service
	registry   *prometheus.Registry
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer creates a new web server. registry may be nil, in which case
// /metrics is not served.
func NewServer(cfg *config.Config, svc *service.Service, registry *prometheus.Registry) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:   cfg,
		svc:      svc,
		registry: registry,
		router:   r,
		log:      logging.Component("web"),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * requestTimeout, // the diagnostic stream clears its own deadline
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
