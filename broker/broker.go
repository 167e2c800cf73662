// Package broker fans short messages out to every process serving the same
// sessions, so that an event received by one process reaches the process
// that owns the affected connection.
//
// Delivery is best effort: a message published while nobody is subscribed
// is lost, and a slow subscriber may miss messages.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by Next after the stream has been closed.
var ErrClosed = errors.New("broker: stream closed")

// Broker publishes opaque payloads on named topics.
type Broker interface {
	// Publish delivers data to every current subscriber of topic, including
	// subscribers in the publishing process.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe starts receiving messages published on topic after it
	// returns.
	Subscribe(ctx context.Context, topic string) (MessageStream, error)
}

// MessageStream yields the messages of one subscription in publish order.
type MessageStream interface {
	// Next blocks until a message arrives, ctx ends, or the stream is
	// closed.
	Next(ctx context.Context) ([]byte, error)

	// Close ends the subscription. It is idempotent.
	Close() error
}
