// Package brokertest holds a conformance suite shared by broker
// implementations.
package brokertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/broker"
)

// BrokerFactory creates a fresh broker for one subtest.
type BrokerFactory func(t *testing.T) broker.Broker

// RunBrokerTests runs the suite against brokers produced by factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("PublishReachesSubscriber", func(t *testing.T) { testPublishReachesSubscriber(t, factory) })
	t.Run("OrderPreserved", func(t *testing.T) { testOrderPreserved(t, factory) })
	t.Run("FanOut", func(t *testing.T) { testFanOut(t, factory) })
	t.Run("TopicIsolation", func(t *testing.T) { testTopicIsolation(t, factory) })
	t.Run("NextHonorsContext", func(t *testing.T) { testNextHonorsContext(t, factory) })
	t.Run("CloseEndsStream", func(t *testing.T) { testCloseEndsStream(t, factory) })
}

func uniqueTopic(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func subscribe(t *testing.T, b broker.Broker, topic string) broker.MessageStream {
	t.Helper()
	s, err := b.Subscribe(t.Context(), topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func next(t *testing.T, s broker.MessageStream) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	data, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return data
}

func testPublishReachesSubscriber(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	topic := uniqueTopic(t)
	s := subscribe(t, b, topic)

	if err := b.Publish(t.Context(), topic, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := next(t, s); !bytes.Equal(got, []byte(`{"x":1}`)) {
		t.Fatalf("got %q", got)
	}
}

func testOrderPreserved(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	topic := uniqueTopic(t)
	s := subscribe(t, b, topic)

	for i := range 5 {
		if err := b.Publish(t.Context(), topic, []byte{byte('0' + i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	for i := range 5 {
		if got := next(t, s); string(got) != string(rune('0'+i)) {
			t.Fatalf("message %d: got %q", i, got)
		}
	}
}

func testFanOut(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	topic := uniqueTopic(t)
	s1 := subscribe(t, b, topic)
	s2 := subscribe(t, b, topic)

	if err := b.Publish(t.Context(), topic, []byte("hi")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, s := range []broker.MessageStream{s1, s2} {
		if got := next(t, s); string(got) != "hi" {
			t.Fatalf("subscriber %d: got %q", i, got)
		}
	}
}

func testTopicIsolation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	topic := uniqueTopic(t)
	s := subscribe(t, b, topic)

	if err := b.Publish(t.Context(), topic+"-other", []byte("wrong")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(t.Context(), topic, []byte("right")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := next(t, s); string(got) != "right" {
		t.Fatalf("got %q", got)
	}
}

func testNextHonorsContext(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	s := subscribe(t, b, uniqueTopic(t))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}
}

func testCloseEndsStream(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	s := subscribe(t, b, uniqueTopic(t))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, broker.ErrClosed) {
			t.Fatalf("want ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
