package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
	"github.com/ronaldopdias/revivatech-realtime/internal/mailqueue"
	"github.com/ronaldopdias/revivatech-realtime/internal/realtime"
)

// DispatchResult reports how a targeted notification left the system.
type DispatchResult struct {
	NotificationID uuid.UUID `json:"notificationId"`
	Delivered      bool      `json:"delivered"`
	Queued         bool      `json:"queued"`
	QueueItemID    uuid.UUID `json:"queueItemId,omitempty"`
}

// Stats combines the hub and queue snapshots for the management surface.
type Stats struct {
	Hub   realtime.HubStats    `json:"hub"`
	Queue mailqueue.QueueStats `json:"queue"`
}

// Service coordinates the live channel and the durable fallback: domain
// event producers call it with a notification and, optionally, an email to
// fall back to when no live connection is reachable.
type Service struct {
	hub   *realtime.Hub
	queue *mailqueue.Queue
}

func NewService(hub *realtime.Hub, queue *mailqueue.Queue) *Service {
	return &Service{hub: hub, queue: queue}
}

// SendToUser pushes a notification to every live connection of a user. When
// nothing is reached and an email fallback is supplied, the email is
// enqueued on the durable channel.
func (s *Service) SendToUser(ctx context.Context, userID string, n domain.Notification, fallback *domain.EmailMessage) (DispatchResult, error) {
	payload, err := realtime.EncodeNotification(n)
	if err != nil {
		return DispatchResult{}, err
	}

	result := DispatchResult{NotificationID: n.ID}
	result.Delivered = s.hub.SendToUser(userID, payload)

	if !result.Delivered && fallback != nil {
		result.QueueItemID = s.queue.Enqueue(*fallback)
		result.Queued = true
		slog.InfoContext(ctx, "Live delivery unavailable, queued email fallback",
			"user_id", userID,
			"notification_id", n.ID,
			"queue_item_id", result.QueueItemID,
		)
	}

	return result, nil
}

// Broadcast pushes a notification to every live connection except those
// owned by excludeUserID, returning the number of connections reached.
func (s *Service) Broadcast(ctx context.Context, n domain.Notification, excludeUserID string) (int, error) {
	payload, err := realtime.EncodeNotification(n)
	if err != nil {
		return 0, err
	}

	reached := s.hub.Broadcast(payload, excludeUserID)
	slog.DebugContext(ctx, "Broadcast dispatched", "notification_id", n.ID, "reached", reached)
	return reached, nil
}

// Stats reports the live and durable channel snapshots.
func (s *Service) Stats() Stats {
	return Stats{Hub: s.hub.Stats(), Queue: s.queue.Stats()}
}
