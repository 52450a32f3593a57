// Package http serves the read-only status API: health, the project
// manifest and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "localhost:9090"

// ManifestSource reads the current project manifest.
type ManifestSource interface {
	Load(ctx context.Context) (*manifest.ProjectManifest, error)
}

// HealthChecker reports the state of a dependency, such as telemetry export.
type HealthChecker func() string

// Server provides HTTP endpoints for accdd.
type Server struct {
	echo    *echo.Echo
	store   ManifestSource
	logger  *logging.Logger
	config  *Config
	metrics http.Handler
	health  HealthChecker
}

// Config holds HTTP server configuration.
type Config struct {
	Addr    string
	Version string
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler exposes h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealthChecker adds the telemetry state to /health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithHTTPMetrics records request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.echo.Use(m.MetricsMiddleware()) }
}

// NewServer creates a new HTTP server.
func NewServer(store ManifestSource, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("manifest store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		store:  store,
		logger: logger.Named("http"),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/cycles", s.handleCycles)
	v1.GET("/cycles/:id", s.handleCycle)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.health != nil {
		resp.Telemetry = s.health()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) load(c echo.Context) (*manifest.ProjectManifest, error) {
	m, err := s.store.Load(c.Request().Context())
	if err != nil {
		s.logger.Warn(c.Request().Context(), "failed to load manifest", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to load manifest")
	}
	return m, nil
}

func (s *Server) handleStatus(c echo.Context) error {
	m, err := s.load(c)
	if err != nil {
		return err
	}
	resp := StatusResponse{Status: "idle", Version: s.config.Version, Counts: countCycles(m)}
	if m != nil {
		resp.Status = "active"
		resp.SessionID = m.ProjectSessionID
		resp.IntegrationBranch = m.IntegrationBranch
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCycles(c echo.Context) error {
	m, err := s.load(c)
	if err != nil {
		return err
	}
	out := []CycleResponse{}
	if m != nil {
		for _, cy := range m.Cycles {
			out = append(out, toCycleResponse(cy))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCycle(c echo.Context) error {
	m, err := s.load(c)
	if err != nil {
		return err
	}
	cy := m.Cycle(c.Param("id"))
	if cy == nil {
		return echo.NewHTTPError(http.StatusNotFound, "cycle not found")
	}
	return c.JSON(http.StatusOK, toCycleResponse(cy))
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting status server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down status server")
	return s.echo.Shutdown(ctx)
}
