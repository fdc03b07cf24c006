// Package messaging is the bridge's view of the message bus: the message
// envelope, the roles components play on it, and its subject names.
// Broker implementations live in subpackages.
package messaging

import (
	"context"
	"time"
)

// Message is one envelope on the bus.
type Message struct {
	Subject string
	Data    []byte

	// Header carries the dedup id and event kind on engine input, and
	// the query alias on results published outside the alias subjects.
	Header map[string]string

	// Received is the broker's storage time when it records one,
	// otherwise the local delivery time.
	Received time.Time
}

// Get returns the header value for key, or "" when absent.
func (m *Message) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.Header[key]
}

// Handler processes one delivered message. Durable consumers redeliver
// when it returns an error; core subscriptions only log it.
type Handler func(ctx context.Context, msg *Message) error

// Publisher sends engine input.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
}

// Subscriber attaches a handler to a queue group, so each message is
// handled by one member of the group.
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)
}

// Subscription is an attached handler.
type Subscription interface {
	Unsubscribe() error
}
