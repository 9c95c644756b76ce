// Package domain holds the shared model types and ports of the realtime
// delivery service: notifications, delivery envelopes, and the email
// rendering/transmission contracts implemented by external collaborators.
package domain
