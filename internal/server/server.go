package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hostfleet/internal/constants"
	"hostfleet/internal/db"
	"hostfleet/internal/discovery"
	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/logger"
	"hostfleet/internal/metrics"
	"hostfleet/internal/types"
)

// Config holds the server configuration
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:          constants.DefaultListenAddr,
		ReadTimeout:     constants.DefaultServerReadTimeout,
		WriteTimeout:    constants.DefaultServerWriteTimeout,
		ShutdownTimeout: constants.DefaultServerShutdownTimeout,
	}
}

// InstanceSource discovers instances.
type InstanceSource interface {
	Discover(ctx context.Context, sel discovery.Selector) ([]types.Instance, error)
}

// TimelineReader reads the deployment timeline.
type TimelineReader interface {
	Query(ctx context.Context, f db.Filter) ([]types.TimelineEntry, error)
	LastKnown(ctx context.Context, family types.Family) ([]types.InstanceRef, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the read-only collaborators of the API.
type Deps struct {
	Instances InstanceSource
	Timeline  TimelineReader
	Database  HealthChecker
	Metrics   *metrics.Metrics
}

// Server serves the read-only fleet API. It has no mutating endpoints.
type Server struct {
	config    *Config
	echo      *echo.Echo
	deps      Deps
	startTime time.Time
}

// New creates a server with routes and middleware installed.
func New(cfg *Config, deps Deps) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	s := &Server{
		config:    cfg,
		echo:      e,
		deps:      deps,
		startTime: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Echo returns the Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.echo,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- apperrors.Wrap(apperrors.ErrInternal, "Failed to start server", err)
		}
	}()
	logger.WithField("listen", s.config.Listen).Info("API server started")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "Server shutdown failed", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(logger.RequestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(readOnly)
}
