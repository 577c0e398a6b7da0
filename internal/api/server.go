package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/fieldwatch/internal/api/middleware"
	v1 "github.com/tphakala/fieldwatch/internal/api/v1"
	"github.com/tphakala/fieldwatch/internal/conf"
	"github.com/tphakala/fieldwatch/internal/engine"
	"github.com/tphakala/fieldwatch/internal/logger"
)

// Server is the HTTP server for the alert API.
type Server struct {
	echo          *echo.Echo
	config        *Config
	engine        *engine.Engine
	apiController *v1.Controller
	startTime     time.Time
}

// New creates an HTTP server serving eng.
func New(settings conf.WebServerSettings, eng *engine.Engine) (*Server, error) {
	return NewWithConfig(ConfigFromSettings(settings), eng)
}

// NewWithConfig creates an HTTP server from an explicit configuration.
func NewWithConfig(config *Config, eng *engine.Engine) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		engine:    eng,
		startTime: time.Now(),
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	GetLogger().Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.Duration("heartbeat", config.Heartbeat))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logger.WithTraceID(c.Request().Context(), id)))
		},
	}))
	s.echo.Use(mw.NewRequestLogger(GetLogger()))

	mw.Apply(s.echo, mw.Policy{
		Origins:   s.config.AllowedOrigins,
		BodyLimit: s.config.BodyLimit,
		Streams:   []string{v1.Prefix + "/alerts/stream", v1.Prefix + "/alerts/ws"},
	})
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.apiController = v1.New(s.echo, s.engine, v1.WithHeartbeat(s.config.Heartbeat))
}

// healthCheck reports liveness and whether history is degraded.
func (s *Server) healthCheck(c echo.Context) error {
	status := "healthy"
	degraded := s.engine.Degraded()
	if degraded {
		status = "degraded"
	}
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":           status,
		"history_degraded": degraded,
		"uptime":           uptime.String(),
		"uptime_seconds":   uptime.Seconds(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln

	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("HTTP server starting", logger.String("address", ln.Addr().String()))
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		s.apiController.Shutdown()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown closes the alert streams and stops the server gracefully.
func (s *Server) Shutdown() error {
	s.apiController.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	GetLogger().Info("HTTP server stopped")
	return nil
}
