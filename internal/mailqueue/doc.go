// Package mailqueue implements the durable fallback delivery channel: an
// in-memory, bounded-retry email queue drained by a single actor goroutine.
//
// Items retry with linear backoff (attempts × base delay) up to three
// attempts, then fail terminally with the last error retained. The drain
// loop is an explicit idle ⇄ draining state machine re-armed by Enqueue.
// Nothing is persisted; restarting the process abandons queued items.
package mailqueue
