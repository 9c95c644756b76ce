package subscriber

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ronaldopdias/revivatech-realtime/internal/domain"
)

// Received is a pushed notification plus its local read state.
type Received struct {
	domain.Notification
	Read bool
}

// Inbox accumulates pushed notifications with read/unread state, independent
// of any UI consuming them. Safe for concurrent use.
type Inbox struct {
	mu            sync.Mutex
	notifications []Received
}

func newInbox() *Inbox {
	return &Inbox{}
}

func (i *Inbox) add(n domain.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notifications = append(i.notifications, Received{Notification: n})
}

// Notifications returns a copy of all received notifications, newest last.
func (i *Inbox) Notifications() []Received {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Received, len(i.notifications))
	copy(out, i.notifications)
	return out
}

// UnreadCount reports how many notifications have not been marked read.
func (i *Inbox) UnreadCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	count := 0
	for _, n := range i.notifications {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead marks a single notification as read. Unknown ids are a no-op.
func (i *Inbox) MarkRead(id uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.notifications {
		if i.notifications[idx].ID == id {
			i.notifications[idx].Read = true
			return
		}
	}
}

// MarkAllRead marks every notification as read.
func (i *Inbox) MarkAllRead() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx := range i.notifications {
		i.notifications[idx].Read = true
	}
}
