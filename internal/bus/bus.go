// Package bus is the event-bus boundary of the system: durable named topics,
// at-least-once delivery, and explicit acknowledgment. A handler that returns
// nil acknowledges its message; any error leaves the message unacknowledged
// and it is redelivered. Consumers must therefore tolerate duplicates.
package bus

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrBusClosed      = errors.New("bus is closed")
	ErrDuplicateGroup = errors.New("group already subscribed to topic")
)

// Message is one unit carried on a topic.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Handler processes one delivered message. Returning nil acknowledges it.
// Wrap an error with Permanent to stop redelivery of a poison message.
type Handler func(ctx context.Context, m Message) error

// Publisher publishes a message durably. Implementations retry transient
// broker failures with backoff and only return once the write is acknowledged
// or the context ends.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Bus combines durable publishing with group subscriptions. Within one
// (topic, group) subscription messages are handled strictly one at a time;
// distinct subscriptions run concurrently and are not ordered relative to
// each other.
type Bus interface {
	Publisher
	Subscribe(topic, group string, h Handler) error
	Close() error
}

// Subscription declares one edge of the choreography: the group that reacts
// to a topic and the handler it reacts with.
type Subscription struct {
	Topic   string
	Group   string
	Handler Handler
}

// Attach registers every subscription on b.
func Attach(b Bus, subs ...Subscription) error {
	for _, s := range subs {
		if err := b.Subscribe(s.Topic, s.Group, s.Handler); err != nil {
			return errors.Wrapf(err, "subscribe %s/%s", s.Topic, s.Group)
		}
	}
	return nil
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth redelivering: the message is acked (after
// being reported) instead of blocking the stream. Malformed payloads and
// unknown status values fall in this bucket.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
