package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
	apperrors "github.com/ronaldopdias/revivatech-realtime/internal/platform/errors"
)

// notificationData is the payload shape shared by the send, broadcast and
// test endpoints. Event producers treat it as opaque; only the delivery
// metadata is interpreted here.
type notificationData struct {
	Type     string          `json:"notificationType"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Priority domain.Priority `json:"priority"`
	Data     map[string]any  `json:"data"`
}

type sendRequest struct {
	UserID string           `json:"userId"`
	Data   notificationData `json:"data"`
	Email  *emailFallback   `json:"email"`
}

type emailFallback struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

type broadcastRequest struct {
	Data        notificationData `json:"data"`
	ExcludeUser string           `json:"excludeUser"`
}

type testRequest struct {
	UserID string            `json:"userId"`
	Data   *notificationData `json:"data"`
}

type mintTokenRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.service.Stats()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.UserID == "" {
		return apperrors.ValidationError("userId is required")
	}
	if req.Data.Type == "" {
		return apperrors.ValidationError("data.notificationType is required")
	}
	if req.Email != nil && req.Email.To == "" {
		return apperrors.ValidationError("email.to is required when email is supplied")
	}

	n := domain.NewNotification(req.Data.Type, req.Data.Title, req.Data.Message, req.Data.Priority, req.Data.Data)

	var fallback *domain.EmailMessage
	if req.Email != nil {
		template := req.Email.Template
		if template == "" {
			template = "notification"
		}
		data := req.Email.Data
		if data == nil {
			data = map[string]any{"title": n.Title, "message": n.Message}
		}
		fallback = &domain.EmailMessage{To: req.Email.To, Template: template, Data: data}
	}

	result, err := s.service.SendToUser(c.Request().Context(), req.UserID, n, fallback)
	if err != nil {
		return apperrors.InternalError("failed to dispatch notification", err).WithContext("user_id", req.UserID)
	}

	if err := c.JSON(http.StatusOK, result); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleBroadcast(c echo.Context) error {
	var req broadcastRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Data.Type == "" {
		return apperrors.ValidationError("data.notificationType is required")
	}

	n := domain.NewNotification(req.Data.Type, req.Data.Title, req.Data.Message, req.Data.Priority, req.Data.Data)

	reached, err := s.service.Broadcast(c.Request().Context(), n, req.ExcludeUser)
	if err != nil {
		return apperrors.InternalError("failed to broadcast notification", err)
	}

	response := map[string]any{"notificationId": n.ID, "reached": reached}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleTestNotification(c echo.Context) error {
	var req testRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	data := notificationData{
		Type:     "test",
		Title:    "Test notification",
		Message:  fmt.Sprintf("Test notification sent at %s", time.Now().UTC().Format(time.RFC3339)),
		Priority: domain.PriorityLow,
	}
	if req.Data != nil {
		data = *req.Data
		if data.Type == "" {
			data.Type = "test"
		}
	}

	n := domain.NewNotification(data.Type, data.Title, data.Message, data.Priority, data.Data)

	ctx := c.Request().Context()
	if req.UserID != "" {
		result, err := s.service.SendToUser(ctx, req.UserID, n, nil)
		if err != nil {
			return apperrors.InternalError("failed to dispatch test notification", err)
		}
		if err := c.JSON(http.StatusOK, result); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}

	reached, err := s.service.Broadcast(ctx, n, "")
	if err != nil {
		return apperrors.InternalError("failed to broadcast test notification", err)
	}
	response := map[string]any{"notificationId": n.ID, "reached": reached}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleMintToken(c echo.Context) error {
	var req mintTokenRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.UserID == "" {
		return apperrors.ValidationError("userId is required")
	}

	signed, expiry, err := s.tokens.Mint(req.UserID)
	if err != nil {
		return apperrors.InternalError("failed to mint token", err).WithContext("user_id", req.UserID)
	}

	response := map[string]any{"token": signed, "expiresAt": expiry}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
