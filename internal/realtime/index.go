package realtime

import "github.com/google/uuid"

// subscriberIndex maintains the bidirectional user ⇄ connections mapping.
// It is owned by the hub goroutine and must only be touched from there;
// both directions are updated together inside a single command handler.
type subscriberIndex struct {
	users  map[string]map[uuid.UUID]struct{}
	owners map[uuid.UUID]string
}

func newSubscriberIndex() *subscriberIndex {
	return &subscriberIndex{
		users:  make(map[string]map[uuid.UUID]struct{}),
		owners: make(map[uuid.UUID]string),
	}
}

// associate links a connection to a user. Re-associating an already linked
// connection moves it: the previous link is removed first.
func (i *subscriberIndex) associate(connID uuid.UUID, userID string) {
	if prev, ok := i.owners[connID]; ok {
		if prev == userID {
			return
		}
		i.dissociate(connID)
	}

	conns, ok := i.users[userID]
	if !ok {
		conns = make(map[uuid.UUID]struct{})
		i.users[userID] = conns
	}
	conns[connID] = struct{}{}
	i.owners[connID] = userID
}

// dissociate unlinks a connection from its user, pruning the user entry when
// its connection set empties. Unknown connections are a no-op.
func (i *subscriberIndex) dissociate(connID uuid.UUID) {
	userID, ok := i.owners[connID]
	if !ok {
		return
	}
	delete(i.owners, connID)

	conns := i.users[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(i.users, userID)
	}
}

// resolve returns the connection set for a user; empty (never nil) for
// unknown users.
func (i *subscriberIndex) resolve(userID string) map[uuid.UUID]struct{} {
	if conns, ok := i.users[userID]; ok {
		return conns
	}
	return map[uuid.UUID]struct{}{}
}

// owner returns the user a connection is associated with, if any.
func (i *subscriberIndex) owner(connID uuid.UUID) (string, bool) {
	userID, ok := i.owners[connID]
	return userID, ok
}

// userCount reports how many users currently have at least one connection.
func (i *subscriberIndex) userCount() int {
	return len(i.users)
}
