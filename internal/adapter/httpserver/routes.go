package httpserver

import (
	"crypto/subtle"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ronaldopdias/revivatech-realtime/internal/platform/correlation"
	apperrors "github.com/ronaldopdias/revivatech-realtime/internal/platform/errors"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(apperrors.Middleware())

	s.registerHealthRoutes()

	s.echo.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	s.echo.GET("/ws", echo.WrapHandler(s.websocketHandler))

	admin := s.requireAPIKey

	s.echo.GET("/api/notifications/stats", s.handleStats, admin)
	s.echo.POST("/api/notifications/send", s.handleSend, admin)
	s.echo.POST("/api/notifications/broadcast", s.handleBroadcast, admin)
	s.echo.POST("/api/notifications/test", s.handleTestNotification, admin)
	s.echo.POST("/api/tokens", s.handleMintToken, admin)
}

// correlationMiddleware stamps every request context with a correlation id
// so downstream slog calls carry it.
func correlationMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := correlation.WithID(req.Context(), correlation.NewID())
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// requireAPIKey guards the management surface. The key is shared with the
// repair-shop web application, which calls these endpoints server-side.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.AdminAPIKey)) != 1 {
			return apperrors.UnauthorizedError("invalid or missing API key")
		}
		return next(c)
	}
}
