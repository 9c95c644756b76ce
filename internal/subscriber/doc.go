// Package subscriber implements the client side of the realtime protocol:
// a reconnecting WebSocket subscriber that authenticates at handshake time,
// re-subscribes after every reconnect, and buffers pushed notifications
// independent of any consumer.
package subscriber
