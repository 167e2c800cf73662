// Package memory provides an in-process broker.Broker. It only connects
// subscribers within one process, which is enough for tests and for
// single-node deployments.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/ggoodman/mcp-atlassian-go/broker"
)

const bufferSize = 64

// Broker implements broker.Broker with buffered channels.
type Broker struct {
	mu     sync.Mutex
	topics map[string]map[*subscription]struct{}
}

var _ broker.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{topics: make(map[string]map[*subscription]struct{})}
}

// Publish never blocks; a subscriber whose buffer is full misses the message.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- slices.Clone(data):
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (broker.MessageStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{b: b, topic: topic, ch: make(chan []byte, bufferSize), done: make(chan struct{})}
	b.mu.Lock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

type subscription struct {
	b     *Broker
	topic string
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, broker.ErrClosed
	default:
	}
	select {
	case data := <-s.ch:
		return data, nil
	case <-s.done:
		return nil, broker.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		if subs, ok := s.b.topics[s.topic]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.b.topics, s.topic)
			}
		}
		s.b.mu.Unlock()
		close(s.done)
	})
	return nil
}
