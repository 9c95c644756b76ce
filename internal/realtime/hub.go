package realtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// HubStats is the live-delivery snapshot exposed on the management surface.
type HubStats struct {
	Connections        int `json:"connections"`
	AuthenticatedUsers int `json:"authenticatedUsers"`
}

// --- Commands ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerReply struct {
	connectionID uuid.UUID
	err          error
}

type registerCmd struct {
	baseHubCmd
	connection   *websocket.Conn
	replyChannel chan registerReply
}

type unregisterCmd struct {
	baseHubCmd
	connectionID uuid.UUID
}

type associateCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	userID       string
	errorChannel chan error
}

type subscribeCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	events       []string
	replyChannel chan []string
}

type sendFrameCmd struct {
	baseHubCmd
	connectionID uuid.UUID
	payload      []byte
}

type sendToUserCmd struct {
	baseHubCmd
	userID       string
	payload      []byte
	replyChannel chan bool
}

type broadcastCmd struct {
	baseHubCmd
	payload       []byte
	excludeUserID string
	replyChannel  chan int
}

type statsCmd struct {
	baseHubCmd
	replyChannel chan HubStats
}

type stopCmd struct {
	baseHubCmd
}

// Hub owns every live connection and the user ⇄ connections index, and
// resolves dispatch targets to connections. All state is confined to the
// single run goroutine; the public API posts commands and waits on reply
// channels with a timeout guard.
type Hub struct {
	cmdCh       chan hubCmd
	clock       clockwork.Clock
	connections map[uuid.UUID]*clientWriter
	index       *subscriberIndex
	topics      map[uuid.UUID]map[string]struct{}
	maxPerUser  int
	hubMetrics  *metrics.RealtimeMetrics
	done        chan struct{}
}

// NewHub creates a hub and starts its run goroutine. hubMetrics may be nil
// (tests construct hubs without a registry).
func NewHub(clock clockwork.Clock, maxConnectionsPerUser int, hubMetrics *metrics.RealtimeMetrics) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, 256),
		clock:       clock,
		connections: make(map[uuid.UUID]*clientWriter),
		index:       newSubscriberIndex(),
		topics:      make(map[uuid.UUID]map[string]struct{}),
		maxPerUser:  maxConnectionsPerUser,
		hubMetrics:  hubMetrics,
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

// --- Public API ---

// Register adds a live connection, assigns it a fresh id, and pushes the
// connection frame to the client.
func (h *Hub) Register(conn *websocket.Conn) (uuid.UUID, error) {
	replyCh := make(chan registerReply, 1)
	h.cmdCh <- registerCmd{connection: conn, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.connectionID, reply.err
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection. Unknown ids are a no-op.
func (h *Hub) Unregister(connectionID uuid.UUID) {
	h.cmdCh <- unregisterCmd{connectionID: connectionID}
}

// Associate links a connection to an authenticated user.
func (h *Hub) Associate(connectionID uuid.UUID, userID string) error {
	errCh := make(chan error, 1)
	h.cmdCh <- associateCmd{connectionID: connectionID, userID: userID, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("associate command timed out after %v", commandTimeout)
	}
}

// Subscribe records advisory topic interest for a connection and returns the
// connection's full topic set. Topics are acknowledged but never enforced as
// a delivery filter.
func (h *Hub) Subscribe(connectionID uuid.UUID, events []string) []string {
	replyCh := make(chan []string, 1)
	h.cmdCh <- subscribeCmd{connectionID: connectionID, events: events, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case topics := <-replyCh:
		return topics
	case <-timer.Chan():
		slog.Warn("Subscribe timed out", "connection_id", connectionID, "timeout", commandTimeout)
		return nil
	}
}

// SendFrame pushes a single frame at one connection, best-effort. If the
// connection is gone or its buffer is full the frame is dropped and logged;
// transport state can change between resolution and send, so this never
// returns an error.
func (h *Hub) SendFrame(connectionID uuid.UUID, payload []byte) {
	h.cmdCh <- sendFrameCmd{connectionID: connectionID, payload: payload}
}

// SendToUser dispatches a payload to every live connection of a user.
// Returns false iff the user has no live connections or every enqueue failed;
// the caller decides whether to escalate to the durable channel.
func (h *Hub) SendToUser(userID string, payload []byte) bool {
	replyCh := make(chan bool, 1)
	h.cmdCh <- sendToUserCmd{userID: userID, payload: payload, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case delivered := <-replyCh:
		return delivered
	case <-timer.Chan():
		slog.Warn("SendToUser timed out", "user_id", userID, "timeout", commandTimeout)
		return false
	}
}

// Broadcast dispatches a payload to every live connection except those owned
// by excludeUserID, returning the number of connections reached.
func (h *Hub) Broadcast(payload []byte, excludeUserID string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- broadcastCmd{payload: payload, excludeUserID: excludeUserID, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("Broadcast timed out", "timeout", commandTimeout)
		return 0
	}
}

// Stats reports live connection and authenticated-user counts.
func (h *Hub) Stats() HubStats {
	replyCh := make(chan HubStats, 1)
	h.cmdCh <- statsCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case stats := <-replyCh:
		return stats
	case <-timer.Chan():
		slog.Warn("Stats timed out", "timeout", commandTimeout)
		return HubStats{}
	}
}

// Healthy reports whether the run goroutine is responsive. Used by the
// readiness probe.
func (h *Hub) Healthy() error {
	replyCh := make(chan HubStats, 1)
	h.cmdCh <- statsCmd{replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case <-replyCh:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("hub unresponsive after %v", commandTimeout)
	}
}

// Stop shuts down the hub, closing all client connections. Blocks until the
// run goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

// --- Run loop ---

func (h *Hub) run() {
	defer close(h.done)

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			h.handleRegister(c)
		case unregisterCmd:
			h.handleUnregister(c.connectionID)
		case associateCmd:
			c.errorChannel <- h.handleAssociate(c.connectionID, c.userID)
		case subscribeCmd:
			c.replyChannel <- h.handleSubscribe(c.connectionID, c.events)
		case sendFrameCmd:
			if !h.trySend(c.connectionID, c.payload) {
				slog.Debug("Frame dropped", "connection_id", c.connectionID)
			}
		case sendToUserCmd:
			c.replyChannel <- h.handleSendToUser(c.userID, c.payload)
		case broadcastCmd:
			c.replyChannel <- h.handleBroadcast(c.payload, c.excludeUserID)
		case statsCmd:
			c.replyChannel <- HubStats{
				Connections:        len(h.connections),
				AuthenticatedUsers: h.index.userCount(),
			}
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleRegister(c registerCmd) {
	connectionID := uuid.New()
	cw := newClientWriter(c.connection, h.clock)
	h.connections[connectionID] = cw

	// The id announcement goes through the writer like any other frame.
	select {
	case cw.sendChannel <- encodeConnection(connectionID):
	default:
	}

	if h.hubMetrics != nil {
		h.hubMetrics.ActiveConnections.Set(float64(len(h.connections)))
	}

	slog.Debug("Connection registered", "connection_id", connectionID, "total_connections", len(h.connections))
	c.replyChannel <- registerReply{connectionID: connectionID}
}

func (h *Hub) handleUnregister(connectionID uuid.UUID) {
	cw, exists := h.connections[connectionID]
	if !exists {
		return
	}

	cw.stop()
	delete(h.connections, connectionID)
	delete(h.topics, connectionID)

	userID, wasAssociated := h.index.owner(connectionID)
	h.index.dissociate(connectionID)

	if h.hubMetrics != nil {
		h.hubMetrics.ActiveConnections.Set(float64(len(h.connections)))
		h.hubMetrics.AuthenticatedUsers.Set(float64(h.index.userCount()))
	}

	if wasAssociated {
		slog.Debug("Connection unregistered", "connection_id", connectionID, "user_id", userID)
	} else {
		slog.Debug("Connection unregistered", "connection_id", connectionID)
	}
}

func (h *Hub) handleAssociate(connectionID uuid.UUID, userID string) error {
	if _, exists := h.connections[connectionID]; !exists {
		return fmt.Errorf("unknown connection %s", connectionID)
	}
	if userID == "" {
		return fmt.Errorf("empty user id")
	}

	current := h.index.resolve(userID)
	if _, already := current[connectionID]; !already && h.maxPerUser > 0 && len(current) >= h.maxPerUser {
		return fmt.Errorf("max connections per user (%d) reached", h.maxPerUser)
	}

	h.index.associate(connectionID, userID)

	if h.hubMetrics != nil {
		h.hubMetrics.AuthenticatedUsers.Set(float64(h.index.userCount()))
	}

	slog.Debug("Connection associated", "connection_id", connectionID, "user_id", userID)
	return nil
}

func (h *Hub) handleSubscribe(connectionID uuid.UUID, events []string) []string {
	if _, exists := h.connections[connectionID]; !exists {
		return nil
	}

	set, ok := h.topics[connectionID]
	if !ok {
		set = make(map[string]struct{})
		h.topics[connectionID] = set
	}
	for _, event := range events {
		set[event] = struct{}{}
	}

	topics := make([]string, 0, len(set))
	for event := range set {
		topics = append(topics, event)
	}
	return topics
}

func (h *Hub) handleSendToUser(userID string, payload []byte) bool {
	targets := h.index.resolve(userID)
	if len(targets) == 0 {
		return false
	}

	delivered := false
	var slow []uuid.UUID
	for connectionID := range targets {
		if h.trySend(connectionID, payload) {
			delivered = true
		} else {
			slow = append(slow, connectionID)
		}
	}
	h.evictSlow(slow)

	return delivered
}

func (h *Hub) handleBroadcast(payload []byte, excludeUserID string) int {
	count := 0
	var slow []uuid.UUID
	for connectionID := range h.connections {
		if excludeUserID != "" {
			if owner, ok := h.index.owner(connectionID); ok && owner == excludeUserID {
				continue
			}
		}
		if h.trySend(connectionID, payload) {
			count++
		} else {
			slow = append(slow, connectionID)
		}
	}
	h.evictSlow(slow)

	if h.hubMetrics != nil {
		h.hubMetrics.Broadcasts.Inc()
	}
	return count
}

// trySend enqueues a payload on a connection's writer without blocking.
// A full buffer counts as a failed send; the caller evicts the connection.
func (h *Hub) trySend(connectionID uuid.UUID, payload []byte) bool {
	cw, exists := h.connections[connectionID]
	if !exists {
		return false
	}
	select {
	case cw.sendChannel <- payload:
		if h.hubMetrics != nil {
			h.hubMetrics.MessagesSent.Inc()
		}
		return true
	default:
		return false
	}
}

func (h *Hub) evictSlow(connectionIDs []uuid.UUID) {
	for _, connectionID := range connectionIDs {
		slog.Warn("Disconnecting slow client", "connection_id", connectionID)
		if h.hubMetrics != nil {
			h.hubMetrics.SlowClientsEvicted.Inc()
		}
		h.handleUnregister(connectionID)
	}
}

func (h *Hub) handleStop() {
	total := len(h.connections)
	slog.Info("Hub shutting down", "connections", total)

	for connectionID, cw := range h.connections {
		cw.stopGraceful("Server shutting down")
		delete(h.connections, connectionID)
		delete(h.topics, connectionID)
		h.index.dissociate(connectionID)
	}

	if h.hubMetrics != nil {
		h.hubMetrics.ActiveConnections.Set(0)
		h.hubMetrics.AuthenticatedUsers.Set(0)
	}

	slog.Info("Hub shutdown complete", "disconnected_clients", total)
}
