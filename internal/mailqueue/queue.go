package mailqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ronaldopdias/revivatech-realtime/internal/adapter/metrics"
	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
)

const (
	maxAttempts    = 3
	sendTimeout    = 30 * time.Second
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// Status is the lifecycle state of a queue item. Transitions are
// pending → sending → {sent | pending | failed}; sent and failed are
// terminal and remove the item from the queue.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// QueueItem tracks one email through its retry lifecycle.
type QueueItem struct {
	ID          uuid.UUID
	Email       domain.EmailMessage
	Attempts    int
	Status      Status
	CreatedAt   time.Time
	LastAttempt time.Time
	LastError   string

	eligibleAt time.Time
}

// QueueStats is the queue snapshot exposed on the management surface.
type QueueStats struct {
	Depth  int `json:"depth"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// drainState is the explicit two-state machine guarding the drain loop.
// Exactly one drain is active per queue instance; the transition back to
// idle happens only when no items remain.
type drainState int

const (
	stateIdle drainState = iota
	stateDraining
)

// --- Commands ---

type queueCmd interface{ isQueueCmd() }

type baseQueueCmd struct{}

func (baseQueueCmd) isQueueCmd() {}

type enqueueCmd struct {
	baseQueueCmd
	email        domain.EmailMessage
	replyChannel chan uuid.UUID
}

type attemptResultCmd struct {
	baseQueueCmd
	itemID uuid.UUID
	err    error
}

type queueStatsCmd struct {
	baseQueueCmd
	replyChannel chan QueueStats
}

type queueStopCmd struct {
	baseQueueCmd
}

// Queue is the durable fallback channel: a bounded-retry, backoff-scheduled
// delivery queue for email-class notifications. State lives only in process
// memory; items mid-retry at restart are not recovered.
type Queue struct {
	cmdCh       chan queueCmd
	clock       clockwork.Clock
	renderer    domain.EmailRenderer
	sender      domain.EmailSender
	baseDelay   time.Duration
	qM          *metrics.MailQueueMetrics
	items       map[uuid.UUID]*QueueItem
	order       []uuid.UUID
	state       drainState
	inFlight    bool
	sentCount   int
	failedCount int
	done        chan struct{}
}

// NewQueue creates a queue and starts its run goroutine. Delivery re-invokes
// render + send in full on every retry; neither step deduplicates, so a
// retry after a partial transmission failure can produce a duplicate email.
// qM may be nil.
func NewQueue(renderer domain.EmailRenderer, sender domain.EmailSender, baseDelay time.Duration, clock clockwork.Clock, qM *metrics.MailQueueMetrics) *Queue {
	q := &Queue{
		cmdCh:     make(chan queueCmd, 256),
		clock:     clock,
		renderer:  renderer,
		sender:    sender,
		baseDelay: baseDelay,
		qM:        qM,
		items:     make(map[uuid.UUID]*QueueItem),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends an email with status pending and re-arms the drain loop if
// it is idle. Returns the queue item id.
func (q *Queue) Enqueue(email domain.EmailMessage) uuid.UUID {
	replyCh := make(chan uuid.UUID, 1)
	q.cmdCh <- enqueueCmd{email: email, replyChannel: replyCh}

	timer := q.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-replyCh:
		return id
	case <-timer.Chan():
		slog.Warn("Enqueue timed out", "timeout", commandTimeout)
		return uuid.Nil
	}
}

// Stats reports the current queue depth and terminal counters.
func (q *Queue) Stats() QueueStats {
	replyCh := make(chan QueueStats, 1)
	q.cmdCh <- queueStatsCmd{replyChannel: replyCh}

	timer := q.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case stats := <-replyCh:
		return stats
	case <-timer.Chan():
		slog.Warn("Queue stats timed out", "timeout", commandTimeout)
		return QueueStats{}
	}
}

// Stop shuts down the queue. Items still pending are abandoned; nothing is
// persisted.
func (q *Queue) Stop() {
	q.cmdCh <- queueStopCmd{}

	timer := q.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-q.done:
		slog.Info("Mail queue stopped")
	case <-timer.Chan():
		slog.Warn("Mail queue stop timeout exceeded", "timeout", stopTimeout)
	}
}

// --- Run loop ---

func (q *Queue) run() {
	defer close(q.done)

	var timer clockwork.Timer
	var timerCh <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerCh = nil
		}
	}

	// schedule advances the state machine: start the next eligible attempt,
	// arm the backoff timer, or fall back to idle when the queue is empty.
	schedule := func() {
		stopTimer()

		if q.inFlight {
			return
		}
		if len(q.items) == 0 {
			q.state = stateIdle
			return
		}
		q.state = stateDraining

		next := q.nextPending()
		if next == nil {
			// Only sending items remain; the result command re-schedules.
			return
		}

		now := q.clock.Now()
		if wait := next.eligibleAt.Sub(now); wait > 0 {
			timer = q.clock.NewTimer(wait)
			timerCh = timer.Chan()
			return
		}

		q.startAttempt(next)
	}

	for {
		select {
		case <-timerCh:
			stopTimer()
			schedule()

		case cmd := <-q.cmdCh:
			switch c := cmd.(type) {
			case enqueueCmd:
				c.replyChannel <- q.handleEnqueue(c.email)
				schedule()
			case attemptResultCmd:
				q.handleAttemptResult(c.itemID, c.err)
				schedule()
			case queueStatsCmd:
				c.replyChannel <- QueueStats{Depth: len(q.items), Sent: q.sentCount, Failed: q.failedCount}
			case queueStopCmd:
				stopTimer()
				return
			default:
				slog.Warn("Mail queue received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (q *Queue) handleEnqueue(email domain.EmailMessage) uuid.UUID {
	item := &QueueItem{
		ID:         uuid.New(),
		Email:      email,
		Status:     StatusPending,
		CreatedAt:  q.clock.Now(),
		eligibleAt: q.clock.Now(),
	}
	q.items[item.ID] = item
	q.order = append(q.order, item.ID)

	if q.qM != nil {
		q.qM.Enqueued.Inc()
		q.qM.QueueDepth.Set(float64(len(q.items)))
	}

	slog.Debug("Email enqueued", "item_id", item.ID, "to", email.To, "template", email.Template)
	return item.ID
}

// nextPending returns the pending item with the earliest eligibility,
// preserving enqueue order among equally eligible items.
func (q *Queue) nextPending() *QueueItem {
	var next *QueueItem
	for _, id := range q.order {
		item, ok := q.items[id]
		if !ok || item.Status != StatusPending {
			continue
		}
		if next == nil || item.eligibleAt.Before(next.eligibleAt) {
			next = item
		}
	}
	return next
}

func (q *Queue) startAttempt(item *QueueItem) {
	item.Status = StatusSending
	item.Attempts++
	item.LastAttempt = q.clock.Now()
	q.inFlight = true

	if q.qM != nil {
		q.qM.Attempts.Inc()
	}

	email := item.Email
	itemID := item.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		err := q.deliver(ctx, email)
		q.cmdCh <- attemptResultCmd{itemID: itemID, err: err}
	}()
}

// deliver runs the full delivery action: render, then transmit.
func (q *Queue) deliver(ctx context.Context, email domain.EmailMessage) error {
	subject, body, err := q.renderer.Render(email.Template, email.Data)
	if err != nil {
		return fmt.Errorf("render %q: %w", email.Template, err)
	}
	if err := q.sender.Send(ctx, email.To, subject, body); err != nil {
		return fmt.Errorf("send to %s: %w", email.To, err)
	}
	return nil
}

func (q *Queue) handleAttemptResult(itemID uuid.UUID, err error) {
	q.inFlight = false

	item, ok := q.items[itemID]
	if !ok {
		return
	}

	if err == nil {
		item.Status = StatusSent
		q.remove(itemID)
		q.sentCount++
		if q.qM != nil {
			q.qM.Sent.Inc()
		}
		slog.Info("Email delivered", "item_id", itemID, "to", item.Email.To, "attempts", item.Attempts)
		return
	}

	item.LastError = err.Error()

	if item.Attempts >= maxAttempts {
		item.Status = StatusFailed
		q.remove(itemID)
		q.failedCount++
		if q.qM != nil {
			q.qM.Failed.Inc()
		}
		slog.Error("Email delivery failed permanently",
			"item_id", itemID,
			"to", item.Email.To,
			"attempts", item.Attempts,
			"last_error", item.LastError,
		)
		return
	}

	item.Status = StatusPending
	item.eligibleAt = q.clock.Now().Add(time.Duration(item.Attempts) * q.baseDelay)
	slog.Warn("Email delivery failed, will retry",
		"item_id", itemID,
		"to", item.Email.To,
		"attempts", item.Attempts,
		"error", item.LastError,
	)
}

func (q *Queue) remove(itemID uuid.UUID) {
	delete(q.items, itemID)
	for i, id := range q.order {
		if id == itemID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.qM != nil {
		q.qM.QueueDepth.Set(float64(len(q.items)))
	}
}
