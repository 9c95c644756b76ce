package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
	"github.com/ronaldopdias/revivatech-realtime/internal/mailqueue"
	"github.com/ronaldopdias/revivatech-realtime/internal/realtime"
)

type countingSender struct {
	sent atomic.Int64
}

func (c *countingSender) Send(_ context.Context, _, _, _ string) error {
	c.sent.Add(1)
	return nil
}

func testService(t *testing.T) (*Service, *realtime.Hub, *countingSender, func(userID string) *ws.Conn) {
	t.Helper()

	hub := realtime.NewHub(clockwork.NewRealClock(), 10, nil)
	t.Cleanup(hub.Stop)

	renderer, err := mailqueue.NewTemplateRenderer(mailqueue.DefaultTemplates())
	require.NoError(t, err)
	sender := &countingSender{}
	queue := mailqueue.NewQueue(renderer, sender, time.Millisecond, clockwork.NewRealClock(), nil)
	t.Cleanup(queue.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id, err := hub.Register(conn)
		if err != nil {
			return
		}
		if user := r.URL.Query().Get("user"); user != "" {
			_ = hub.Associate(id, user)
		}
		go func() {
			defer hub.Unregister(id)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func(userID string) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?user=" + userID
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	return NewService(hub, queue), hub, sender, dial
}

func waitForHub(hub *realtime.Hub, want realtime.HubStats) bool {
	for i := 0; i < 200; i++ {
		if hub.Stats() == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestService_SendToUser_LiveDeliverySkipsFallback(t *testing.T) {
	service, hub, sender, dial := testService(t)

	dial("u1")
	require.True(t, waitForHub(hub, realtime.HubStats{Connections: 1, AuthenticatedUsers: 1}))

	n := domain.NewNotification("booking_update", "Booked", "See you Tuesday", "", nil)
	fallback := &domain.EmailMessage{To: "u1@example.com", Template: "notification", Data: map[string]any{"title": "Booked", "message": "See you Tuesday"}}

	result, err := service.SendToUser(context.Background(), "u1", n, fallback)
	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.False(t, result.Queued)
	assert.Equal(t, uuid.Nil, result.QueueItemID)
	assert.Equal(t, n.ID, result.NotificationID)

	// The durable channel was never touched.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), sender.sent.Load())
}

func TestService_SendToUser_OfflineUserFallsBackToEmail(t *testing.T) {
	service, _, sender, _ := testService(t)

	n := domain.NewNotification("booking_update", "Booked", "See you Tuesday", "", nil)
	fallback := &domain.EmailMessage{To: "u1@example.com", Template: "notification", Data: map[string]any{"title": "Booked", "message": "See you Tuesday"}}

	result, err := service.SendToUser(context.Background(), "u1", n, fallback)
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.True(t, result.Queued)
	assert.NotEqual(t, uuid.Nil, result.QueueItemID)

	sent := func() bool { return sender.sent.Load() == 1 }
	for i := 0; i < 200; i++ {
		if sent() {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.True(t, sent())
}

func TestService_SendToUser_OfflineWithoutFallbackIsDropped(t *testing.T) {
	service, _, sender, _ := testService(t)

	n := domain.NewNotification("promo", "Sale", "20% off screen repairs", "", nil)
	result, err := service.SendToUser(context.Background(), "u1", n, nil)
	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.False(t, result.Queued)
	assert.Equal(t, int64(0), sender.sent.Load())
}

func TestService_Broadcast_CountsReachedConnections(t *testing.T) {
	service, hub, _, dial := testService(t)

	dial("u1")
	dial("u2")
	require.True(t, waitForHub(hub, realtime.HubStats{Connections: 2, AuthenticatedUsers: 2}))

	n := domain.NewNotification("promo", "Sale", "20% off screen repairs", "", nil)
	reached, err := service.Broadcast(context.Background(), n, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
}

func TestService_Stats_CombinesHubAndQueue(t *testing.T) {
	service, hub, _, dial := testService(t)

	dial("u1")
	require.True(t, waitForHub(hub, realtime.HubStats{Connections: 1, AuthenticatedUsers: 1}))

	stats := service.Stats()
	assert.Equal(t, realtime.HubStats{Connections: 1, AuthenticatedUsers: 1}, stats.Hub)
	assert.Equal(t, mailqueue.QueueStats{}, stats.Queue)
}
