package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/metrics"
	"github.com/ronaldopdias/revivatech-realtime/internal/app"
	"github.com/ronaldopdias/revivatech-realtime/internal/mailqueue"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/config"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/token"
	"github.com/ronaldopdias/revivatech-realtime/internal/realtime"
)

const (
	testAdminKey = "test-admin-key"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type nullSender struct{}

func (nullSender) Send(_ context.Context, _, _, _ string) error { return nil }

func newTestServer(t *testing.T, extraChecks ...HealthCheck) (*Server, *realtime.Hub, *token.Manager) {
	t.Helper()

	hub := realtime.NewHub(clockwork.NewRealClock(), 10, nil)
	t.Cleanup(hub.Stop)

	renderer, err := mailqueue.NewTemplateRenderer(mailqueue.DefaultTemplates())
	require.NoError(t, err)
	queue := mailqueue.NewQueue(renderer, nullSender{}, time.Millisecond, clockwork.NewRealClock(), nil)
	t.Cleanup(queue.Stop)

	tokens := token.NewManager(testSecret, time.Hour)
	service := app.NewService(hub, queue)

	cfg := &config.Config{Port: "0", AdminAPIKey: testAdminKey}

	registry := metrics.NewRegistry()
	wsHandler := realtime.NewHandler(hub, tokens, func(r *http.Request) bool { return true }, nil)

	healthChecks := []HealthCheck{
		{Name: "hub", Check: func(ctx context.Context) error { return hub.Healthy() }},
	}
	healthChecks = append(healthChecks, extraChecks...)

	srv := NewServer(cfg, service, tokens, wsHandler, metrics.Handler(registry), healthChecks)
	return srv, hub, tokens
}

func doRequest(srv *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Liveness(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health/live", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Readiness_AllChecksPass(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestServer_Readiness_ReportsFailingCheck(t *testing.T) {
	srv, _, _ := newTestServer(t, HealthCheck{
		Name:  "smtp",
		Check: func(ctx context.Context) error { return errors.New("connection refused") },
	})

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "smtp", body["failed_check"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestServer_AdminRoutesRequireAPIKey(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/notifications/stats"},
		{http.MethodPost, "/api/notifications/send"},
		{http.MethodPost, "/api/notifications/broadcast"},
		{http.MethodPost, "/api/notifications/test"},
		{http.MethodPost, "/api/tokens"},
	} {
		rec := doRequest(srv, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)

		rec = doRequest(srv, route.method, route.path, "wrong-key", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestServer_Stats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/api/notifications/stats", testAdminKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats app.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Hub.Connections)
	assert.Equal(t, 0, stats.Queue.Depth)
}

func TestServer_Send_ValidatesRequest(t *testing.T) {
	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing user", `{"data":{"notificationType":"booking_update"}}`},
		{"missing type", `{"userId":"u1","data":{"title":"hi"}}`},
		{"email without recipient", `{"userId":"u1","data":{"notificationType":"booking_update"},"email":{"template":"notification"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(srv, http.MethodPost, "/api/notifications/send", testAdminKey, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation", decodeBody(t, rec)["type"])
		})
	}
}

func TestServer_Send_OfflineUserQueuesEmailFallback(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{
		"userId": "u1",
		"data": {"notificationType": "booking_update", "title": "Booked", "message": "See you Tuesday"},
		"email": {"to": "u1@example.com"}
	}`
	rec := doRequest(srv, http.MethodPost, "/api/notifications/send", testAdminKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody(t, rec)
	assert.Equal(t, false, result["delivered"])
	assert.Equal(t, true, result["queued"])
	assert.NotEmpty(t, result["notificationId"])
	assert.NotEmpty(t, result["queueItemId"])
}

func TestServer_Send_OfflineUserWithoutFallback(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"userId":"u1","data":{"notificationType":"booking_update","title":"Booked"}}`
	rec := doRequest(srv, http.MethodPost, "/api/notifications/send", testAdminKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody(t, rec)
	assert.Equal(t, false, result["delivered"])
	assert.Equal(t, false, result["queued"])
}

func TestServer_Broadcast_EmptyHubReachesNobody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := `{"data":{"notificationType":"promo","title":"Sale","message":"20% off"}}`
	rec := doRequest(srv, http.MethodPost, "/api/notifications/broadcast", testAdminKey, body)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody(t, rec)
	assert.Equal(t, float64(0), result["reached"])
	assert.NotEmpty(t, result["notificationId"])
}

func TestServer_Broadcast_RequiresNotificationType(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/notifications/broadcast", testAdminKey, `{"data":{"title":"hi"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TestNotification_DefaultsToBroadcast(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/notifications/test", testAdminKey, `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody(t, rec)
	assert.Equal(t, float64(0), result["reached"])
}

func TestServer_TestNotification_TargetedReportsDelivery(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/notifications/test", testAdminKey, `{"userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody(t, rec)
	assert.Equal(t, false, result["delivered"])
	assert.Equal(t, false, result["queued"])
}

func TestServer_MintToken_RoundTripsThroughVerifier(t *testing.T) {
	srv, _, tokens := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/tokens", testAdminKey, `{"userId":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	signed, ok := body["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, body["expiresAt"])

	userID, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestServer_MintToken_RequiresUserID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/tokens", testAdminKey, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_MetricsEndpointServesRegistry(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(srv, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
