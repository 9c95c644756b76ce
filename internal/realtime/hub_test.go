package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub sets up a hub behind a test HTTP server. Dialing with a user query
// parameter associates the connection server-side.
func testHub(t *testing.T, maxPerUser int) (*Hub, func(userID string) *ws.Conn) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock(), maxPerUser, nil)
	t.Cleanup(hub.Stop)

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
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		if userID != "" {
			url += "?user=" + userID
		}
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	return hub, dial
}

func readFrame(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readConnectionID consumes the connection frame pushed on register.
func readConnectionID(t *testing.T, conn *ws.Conn) uuid.UUID {
	t.Helper()
	frame := readFrame(t, conn)
	require.Equal(t, "connection", frame["type"])
	return uuid.MustParse(frame["connectionId"].(string))
}

func waitForStats(hub *Hub, want HubStats) bool {
	for i := 0; i < 200; i++ {
		if hub.Stats() == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestHub_RegisterAssignsIDAndAnnouncesIt(t *testing.T) {
	hub, dial := testHub(t, 10)

	conn := dial("")
	id := readConnectionID(t, conn)
	assert.NotEqual(t, uuid.Nil, id)

	require.True(t, waitForStats(hub, HubStats{Connections: 1, AuthenticatedUsers: 0}))
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub, dial := testHub(t, 10)

	conn := dial("")
	id := readConnectionID(t, conn)
	require.True(t, waitForStats(hub, HubStats{Connections: 1}))

	hub.Unregister(id)
	require.True(t, waitForStats(hub, HubStats{Connections: 0}))

	hub.Unregister(id)
	assert.Equal(t, HubStats{Connections: 0}, hub.Stats())
}

func TestHub_SendToUser_ReachesAllConnections(t *testing.T) {
	hub, dial := testHub(t, 10)

	conn1 := dial("u1")
	conn2 := dial("u1")
	readConnectionID(t, conn1)
	readConnectionID(t, conn2)
	require.True(t, waitForStats(hub, HubStats{Connections: 2, AuthenticatedUsers: 1}))

	delivered := hub.SendToUser("u1", []byte(`{"type":"notification","title":"hi"}`))
	assert.True(t, delivered)

	for _, conn := range []*ws.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		assert.Equal(t, "notification", frame["type"])
		assert.Equal(t, "hi", frame["title"])
	}
}

func TestHub_SendToUser_NoConnections_ReturnsFalse(t *testing.T) {
	hub, _ := testHub(t, 10)
	assert.False(t, hub.SendToUser("ghost", []byte(`{}`)))
}

func TestHub_Broadcast_ExcludesUser(t *testing.T) {
	hub, dial := testHub(t, 10)

	connA1 := dial("u1")
	connA2 := dial("u1")
	connB := dial("u2")
	readConnectionID(t, connA1)
	readConnectionID(t, connA2)
	readConnectionID(t, connB)
	require.True(t, waitForStats(hub, HubStats{Connections: 3, AuthenticatedUsers: 2}))

	reached := hub.Broadcast([]byte(`{"type":"notification","title":"all"}`), "u1")
	assert.Equal(t, 1, reached)

	frame := readFrame(t, connB)
	assert.Equal(t, "all", frame["title"])
}

func TestHub_Broadcast_NoExclusion_ReachesEveryConnection(t *testing.T) {
	hub, dial := testHub(t, 10)

	conns := []*ws.Conn{dial("u1"), dial("u2"), dial("")}
	for _, conn := range conns {
		readConnectionID(t, conn)
	}
	require.True(t, waitForStats(hub, HubStats{Connections: 3, AuthenticatedUsers: 2}))

	reached := hub.Broadcast([]byte(`{"type":"notification","title":"all"}`), "")
	assert.Equal(t, 3, reached)

	for _, conn := range conns {
		frame := readFrame(t, conn)
		assert.Equal(t, "all", frame["title"])
	}
}

func TestHub_DisconnectOneOfTwo_UserStaysReachable(t *testing.T) {
	hub, dial := testHub(t, 10)

	conn1 := dial("u1")
	conn2 := dial("u1")
	readConnectionID(t, conn1)
	readConnectionID(t, conn2)
	require.True(t, waitForStats(hub, HubStats{Connections: 2, AuthenticatedUsers: 1}))

	require.NoError(t, conn1.Close())
	require.True(t, waitForStats(hub, HubStats{Connections: 1, AuthenticatedUsers: 1}))

	assert.True(t, hub.SendToUser("u1", []byte(`{"type":"notification"}`)))
	frame := readFrame(t, conn2)
	assert.Equal(t, "notification", frame["type"])

	require.NoError(t, conn2.Close())
	require.True(t, waitForStats(hub, HubStats{Connections: 0, AuthenticatedUsers: 0}))
	assert.False(t, hub.SendToUser("u1", []byte(`{"type":"notification"}`)))
}

func TestHub_AssociateEnforcesPerUserLimit(t *testing.T) {
	hub, dial := testHub(t, 1)

	conn1 := dial("u1")
	readConnectionID(t, conn1)
	require.True(t, waitForStats(hub, HubStats{Connections: 1, AuthenticatedUsers: 1}))

	conn2 := dial("")
	id2 := readConnectionID(t, conn2)
	require.True(t, waitForStats(hub, HubStats{Connections: 2, AuthenticatedUsers: 1}))

	err := hub.Associate(id2, "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max connections per user")
}

func TestHub_SubscribeAccumulatesTopics(t *testing.T) {
	hub, dial := testHub(t, 10)

	conn := dial("u1")
	id := readConnectionID(t, conn)

	topics := hub.Subscribe(id, []string{"booking_update", "payment"})
	assert.ElementsMatch(t, []string{"booking_update", "payment"}, topics)

	topics = hub.Subscribe(id, []string{"payment", "promo"})
	assert.ElementsMatch(t, []string{"booking_update", "payment", "promo"}, topics)
}

func TestHub_SubscribeUnknownConnection_ReturnsNil(t *testing.T) {
	hub, _ := testHub(t, 10)
	assert.Nil(t, hub.Subscribe(uuid.New(), []string{"booking_update"}))
}
