package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
)

// Inbound message types accepted from clients. The set is closed: anything
// else is a protocol error answered in-band, with the connection left open.
const (
	inboundAuth      = "auth"
	inboundSubscribe = "subscribe"
	inboundPing      = "ping"
)

// ProtocolError marks an inbound message that could not be understood.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// Inbound is the closed set of client messages.
type Inbound interface{ isInbound() }

type AuthMessage struct {
	UserID string `json:"userId"`
}

func (AuthMessage) isInbound() {}

type SubscribeMessage struct {
	Events []string `json:"events"`
}

func (SubscribeMessage) isInbound() {}

type PingMessage struct{}

func (PingMessage) isInbound() {}

// DecodeInbound parses a client frame into one of the closed inbound
// variants. Unknown types and malformed JSON yield a *ProtocolError.
func DecodeInbound(data []byte) (Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ProtocolError{Reason: "unparseable message"}
	}

	switch probe.Type {
	case inboundAuth:
		var msg AuthMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ProtocolError{Reason: "malformed auth message"}
		}
		return msg, nil
	case inboundSubscribe:
		var msg SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &ProtocolError{Reason: "malformed subscribe message"}
		}
		return msg, nil
	case inboundPing:
		return PingMessage{}, nil
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown message type %q", probe.Type)}
	}
}

// --- Outbound frames ---

type connectionFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type authResultFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
}

type subscriptionSuccessFrame struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type notificationFrame struct {
	Type string `json:"type"`
	domain.Notification
}

func encodeConnection(id uuid.UUID) []byte {
	return mustEncode(connectionFrame{Type: "connection", ConnectionID: id.String()})
}

func encodeAuthSuccess(userID string) []byte {
	return mustEncode(authResultFrame{Type: "auth_success", UserID: userID})
}

func encodeAuthError() []byte {
	return mustEncode(authResultFrame{Type: "auth_error"})
}

func encodeSubscriptionSuccess(events []string) []byte {
	if events == nil {
		events = []string{}
	}
	return mustEncode(subscriptionSuccessFrame{Type: "subscription_success", Events: events})
}

func encodePong(now time.Time) []byte {
	return mustEncode(pongFrame{Type: "pong", Timestamp: now})
}

func encodeError(message string) []byte {
	return mustEncode(errorFrame{Type: "error", Message: message})
}

// EncodeNotification renders the push envelope for a notification.
func EncodeNotification(n domain.Notification) ([]byte, error) {
	data, err := json.Marshal(notificationFrame{Type: "notification", Notification: n})
	if err != nil {
		return nil, fmt.Errorf("marshal notification %s: %w", n.ID, err)
	}
	return data, nil
}

func mustEncode(frame any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		// Frames are plain structs; marshalling cannot fail at runtime.
		panic(err)
	}
	return data
}
