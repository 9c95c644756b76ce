package realtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/metrics"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/token"
)

// TokenVerifier validates a handshake credential and returns the user it
// identifies.
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// Handler upgrades HTTP requests to WebSocket connections and runs the
// per-connection read loop. Credentials may be attached at connection
// establishment (?token=) so there is no open-but-unauthenticated window;
// the in-band auth message remains available for clients that cannot set
// query parameters.
type Handler struct {
	hub        *Hub
	tokens     TokenVerifier
	upgrader   websocket.Upgrader
	hubMetrics *metrics.RealtimeMetrics
}

func NewHandler(hub *Hub, tokens TokenVerifier, checkOrigin func(r *http.Request) bool, hubMetrics *metrics.RealtimeMetrics) *Handler {
	return &Handler{
		hub:        hub,
		tokens:     tokens,
		upgrader:   websocket.Upgrader{CheckOrigin: checkOrigin},
		hubMetrics: hubMetrics,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	connectionID, err := h.hub.Register(conn)
	if err != nil {
		slog.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	if credential := r.URL.Query().Get("token"); credential != "" {
		h.authenticate(connectionID, credential)
	}

	go h.readLoop(conn, connectionID)
}

// authenticate verifies a handshake credential and associates the connection.
// An invalid credential leaves the connection open but unassociated.
func (h *Handler) authenticate(connectionID uuid.UUID, credential string) {
	userID, err := h.tokens.Verify(credential)
	if err != nil {
		slog.Warn("Handshake credential rejected", "connection_id", connectionID, "error", err)
		h.send(connectionID, encodeAuthError())
		return
	}

	if err := h.hub.Associate(connectionID, userID); err != nil {
		slog.Warn("Association failed", "connection_id", connectionID, "user_id", userID, "error", err)
		h.send(connectionID, encodeAuthError())
		return
	}

	h.send(connectionID, encodeAuthSuccess(userID))
}

func (h *Handler) readLoop(conn *websocket.Conn, connectionID uuid.UUID) {
	defer h.hub.Unregister(connectionID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Connection closed unexpectedly", "connection_id", connectionID, "error", err)
			}
			return
		}

		// Any inbound traffic counts as liveness, not just transport pongs.
		_ = conn.SetReadDeadline(h.hub.clock.Now().Add(pongDeadline))

		h.dispatch(connectionID, data)
	}
}

func (h *Handler) dispatch(connectionID uuid.UUID, data []byte) {
	msg, err := DecodeInbound(data)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			slog.Debug("Protocol error", "connection_id", connectionID, "reason", protoErr.Reason)
			if h.hubMetrics != nil {
				h.hubMetrics.ProtocolErrors.Inc()
			}
			h.send(connectionID, encodeError(protoErr.Reason))
		}
		return
	}

	switch m := msg.(type) {
	case AuthMessage:
		if m.UserID == "" {
			h.send(connectionID, encodeAuthError())
			return
		}
		if err := h.hub.Associate(connectionID, m.UserID); err != nil {
			slog.Warn("Association failed", "connection_id", connectionID, "user_id", m.UserID, "error", err)
			h.send(connectionID, encodeAuthError())
			return
		}
		h.send(connectionID, encodeAuthSuccess(m.UserID))

	case SubscribeMessage:
		h.hub.Subscribe(connectionID, m.Events)
		h.send(connectionID, encodeSubscriptionSuccess(m.Events))

	case PingMessage:
		h.send(connectionID, encodePong(h.hub.clock.Now()))
	}
}

// send pushes a control frame at the connection, best-effort: if the
// transport is gone or the buffer is full the frame is dropped and logged,
// never surfaced as an error.
func (h *Handler) send(connectionID uuid.UUID, frame []byte) {
	h.hub.SendFrame(connectionID, frame)
}

var _ TokenVerifier = (*token.Manager)(nil)
