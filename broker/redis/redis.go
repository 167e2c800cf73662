// Package redis implements broker.Broker on Redis Pub/Sub so that every
// process connected to the same Redis sees each published message.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/mcp-atlassian-go/broker"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the broker's channels.
const DefaultKeyPrefix = "mcp:broker:"

type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ broker.Broker = (*Broker)(nil)

// New wraps client. The caller keeps ownership of client.
func New(client redis.UniversalClient, keyPrefix string) *Broker {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Broker{client: client, keyPrefix: keyPrefix}
}

func (b *Broker) channel(topic string) string { return b.keyPrefix + topic }

func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.Publish(ctx, b.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a message
// published afterwards is guaranteed to be seen.
func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.MessageStream, error) {
	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	return &stream{ps: ps, ch: ps.Channel(), done: make(chan struct{})}, nil
}

type stream struct {
	ps   *redis.PubSub
	ch   <-chan *redis.Message
	done chan struct{}
	once sync.Once
	err  error
}

func (s *stream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, broker.ErrClosed
	default:
	}
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, broker.ErrClosed
		}
		return []byte(msg.Payload), nil
	case <-s.done:
		return nil, broker.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.ps.Close()
	})
	return s.err
}
