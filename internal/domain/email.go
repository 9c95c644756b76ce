package domain

import "context"

// EmailMessage is the durable-channel counterpart of a notification: the
// fallback delivery used when no live connection is reachable or when the
// event class requires guaranteed delivery.
type EmailMessage struct {
	To       string
	Template string
	Data     map[string]any
}

// EmailRenderer turns a template name and data into a subject and body. The
// repair-shop web application supplies the implementation; this subsystem
// only invokes it.
type EmailRenderer interface {
	Render(template string, data map[string]any) (subject, body string, err error)
}

// EmailSender transmits a rendered email. A call is assumed atomic: either
// the message was handed to the mail infrastructure or an error is returned.
// Senders are not expected to deduplicate, so a retry after a partial failure
// can produce a duplicate message.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
