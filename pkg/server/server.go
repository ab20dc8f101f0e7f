// Package server provides the factord HTTP API.
//
// The server exposes the engine over a small JSON surface with an Echo
// router, health and metrics endpoints, and context-aware graceful
// shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/factord/internal/engine"
)

// Config holds the server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP server over an engine service.
type Server struct {
	cfg    Config
	svc    *engine.Service
	echo   *echo.Echo
	logger *zap.Logger
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// New creates an HTTP server over the engine.
func New(cfg Config, svc *engine.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		echo:   e,
		logger: logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.GET("/factors", s.handleListFactors)
	v1.GET("/factors/:factor", s.handleGetFactor)
	v1.GET("/factors/:factor/scopes", s.handleGetScopes)
	v1.GET("/factors/:factor/resolution", s.handleResolve)
	v1.GET("/factors/:factor/hierarchy", s.handleHierarchy)
	v1.POST("/factors/:factor/evidence", s.handleSubmitEvidence)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "factord"})
}

// Start starts the server and blocks until the context is cancelled, then
// shuts down gracefully. Returns http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional
// routes in tests or embedders.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
