package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ronaldopdias/revivatech-realtime/internal/app"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/config"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/token"
)

// Server hosts the management surface and mounts the WebSocket endpoint.
type Server struct {
	echo   *echo.Echo
	config *config.Config

	service          *app.Service
	tokens           *token.Manager
	websocketHandler http.Handler
	metricsHandler   http.Handler
	healthChecks     []HealthCheck
	startTime        time.Time
}

func NewServer(cfg *config.Config, service *app.Service, tokens *token.Manager, websocketHandler, metricsHandler http.Handler, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		service:          service,
		tokens:           tokens,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
