// Package realtime implements the live delivery hub using the actor pattern.
//
// The Hub owns the connection registry and the user ⇄ connections index and
// resolves dispatch targets (a user id or broadcast) to live connections.
// Single goroutine + command channel (no mutexes). Per-connection write
// goroutines handle slow clients gracefully. Live delivery is at-most-once
// per connection with no acknowledgement; guaranteed delivery escalates to
// the mailqueue package.
package realtime
