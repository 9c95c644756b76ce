package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
	"github.com/ronaldopdias/revivatech-realtime/internal/platform/retry"
)

// State describes the subscriber's connection lifecycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = 3 * time.Second
	dialTimeout              = 10 * time.Second
)

// Options configures a Subscriber.
type Options struct {
	// URL is the ws:// or wss:// endpoint of the realtime service.
	URL string
	// Token is the signed credential attached at connection establishment.
	Token string
	// Topics is the initial advisory topic set, re-sent on every reconnect.
	Topics []string
	// ReconnectAttempts bounds reconnection tries per outage (default 5).
	ReconnectAttempts int
	// ReconnectDelay is the fixed delay between tries (default 3s).
	ReconnectDelay time.Duration
	// OnFrame, when set, observes every server frame type in arrival order.
	OnFrame func(frameType string)
}

// Subscriber is the client-side counterpart of the realtime hub. It
// authenticates at handshake time, subscribes on every (re)connect, and
// accumulates pushed notifications in an inbox. Connection management runs in
// the background; construction never blocks application logic.
type Subscriber struct {
	opts  Options
	inbox *Inbox

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	connectionID string
	topics       map[string]struct{}
	lastErr      error

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	writeMu  sync.Mutex
}

// New creates a subscriber and starts connecting in the background.
func New(opts Options) (*Subscriber, error) {
	if _, err := url.Parse(opts.URL); err != nil || opts.URL == "" {
		return nil, fmt.Errorf("invalid subscriber URL %q", opts.URL)
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		opts:   opts,
		inbox:  newInbox(),
		state:  StateConnecting,
		topics: make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, topic := range opts.Topics {
		s.topics[topic] = struct{}{}
	}

	go s.run()
	return s, nil
}

// Inbox returns the notification buffer.
func (s *Subscriber) Inbox() *Inbox {
	return s.inbox
}

// State reports the current connection state.
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionID returns the server-assigned id of the current connection.
func (s *Subscriber) ConnectionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionID
}

// Err returns the last connection error, if any. A non-nil error never
// blocks the application; realtime delivery is a best-effort layer over a
// pollable source of truth.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe adds a topic and informs the server when connected. Topics are
// advisory; they are re-sent in full on every reconnect.
func (s *Subscriber) Subscribe(topic string) error {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
	return s.sendSubscribe()
}

// Unsubscribe removes a topic locally. The protocol has no unsubscribe
// message; the topic is simply absent from the next subscribe request.
func (s *Subscriber) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Send transmits an arbitrary client event, e.g. a protocol ping.
func (s *Subscriber) Send(event string, data map[string]any) error {
	frame := make(map[string]any, len(data)+1)
	for k, v := range data {
		frame[k] = v
	}
	frame["type"] = event
	return s.writeJSON(frame)
}

// Close tears the connection down and stops reconnecting.
func (s *Subscriber) Close() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// --- Connection management ---

func (s *Subscriber) run() {
	for {
		conn, err := s.connect()
		if err != nil {
			s.setFailed(err)
			return
		}

		s.readLoop(conn)

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.setState(StateDisconnected)
		slog.Debug("Subscriber disconnected, reconnecting", "url", s.opts.URL)
	}
}

// connect dials with bounded attempts and a fixed delay between them; the
// credential rides on the handshake so there is no unauthenticated window.
func (s *Subscriber) connect() (*websocket.Conn, error) {
	dialURL := s.opts.URL
	if s.opts.Token != "" {
		separator := "?"
		if u, err := url.Parse(dialURL); err == nil && u.RawQuery != "" {
			separator = "&"
		}
		dialURL += separator + "token=" + url.QueryEscape(s.opts.Token)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}

	policy := retry.Policy{
		MaxAttempts:    s.opts.ReconnectAttempts,
		InitialBackoff: s.opts.ReconnectDelay,
		Fixed:          true,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Debug("Subscriber dial failed", "attempt", attempt, "error", err, "retry_in", backoff)
		},
	}
	transient := func(error) retry.Action { return retry.Retry }

	conn, err := retry.Do(s.ctx, policy, transient, func() (*websocket.Conn, error) {
		s.setState(StateConnecting)
		conn, _, err := dialer.Dial(dialURL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.opts.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.lastErr = nil
	s.mu.Unlock()
	return conn, nil
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connectionID = ""
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(data)
	}
}

func (s *Subscriber) handleFrame(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		slog.Debug("Subscriber received unparseable frame", "error", err)
		return
	}

	if s.opts.OnFrame != nil {
		s.opts.OnFrame(probe.Type)
	}

	switch probe.Type {
	case "connection":
		var frame struct {
			ConnectionID string `json:"connectionId"`
		}
		if err := json.Unmarshal(data, &frame); err == nil {
			s.mu.Lock()
			s.connectionID = frame.ConnectionID
			s.mu.Unlock()
		}

	case "auth_success":
		// Subscriptions never survive a reconnect; re-subscribe every time.
		if err := s.sendSubscribe(); err != nil {
			slog.Debug("Subscriber re-subscribe failed", "error", err)
		}

	case "auth_error":
		s.mu.Lock()
		s.lastErr = errors.New("authentication rejected")
		s.mu.Unlock()

	case "notification":
		var n domain.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			slog.Debug("Subscriber received malformed notification", "error", err)
			return
		}
		s.inbox.add(n)

	case "subscription_success", "pong", "error":
		// Acknowledgements carry no client-side state.

	default:
		slog.Debug("Subscriber received unknown frame type", "frame_type", probe.Type)
	}
}

func (s *Subscriber) sendSubscribe() error {
	s.mu.Lock()
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}

	return s.writeJSON(map[string]any{"type": "subscribe", "events": topics})
}

func (s *Subscriber) writeJSON(frame any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *Subscriber) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Subscriber) setFailed(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	s.mu.Unlock()
	slog.Warn("Subscriber gave up connecting", "url", s.opts.URL, "error", err)
}
