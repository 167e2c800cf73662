package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/mcp-atlassian-go/broker"
	"github.com/ggoodman/mcp-atlassian-go/broker/brokertest"
	"github.com/redis/go-redis/v9"
)

func TestRedisBroker(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	brokertest.RunBrokerTests(t, func(t *testing.T) broker.Broker {
		return New(client, "test:broker:")
	})
}
