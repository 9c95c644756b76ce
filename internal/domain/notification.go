package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority ranks a notification for client-side presentation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is a single update pushed to clients, produced by the booking,
// repair and payment subsystems and treated as opaque by the delivery layer.
type Notification struct {
	ID        uuid.UUID      `json:"id"`
	Type      string         `json:"notificationType"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Priority  Priority       `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewNotification builds a notification with a fresh id and timestamp.
// Priority defaults to normal when empty.
func NewNotification(notificationType, title, message string, priority Priority, data map[string]any) Notification {
	if priority == "" {
		priority = PriorityNormal
	}
	return Notification{
		ID:        uuid.New(),
		Type:      notificationType,
		Title:     title,
		Message:   message,
		Priority:  priority,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// BroadcastTarget is the target value meaning "every live connection".
const BroadcastTarget = ""

// DeliveryEnvelope wraps a payload for live dispatch. An empty TargetUserID
// means broadcast. Envelopes are ephemeral and never persisted.
type DeliveryEnvelope struct {
	Type         string          `json:"type"`
	TargetUserID string          `json:"target,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
}
