package redishost

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/sessions"
	"github.com/ggoodman/mcp-atlassian-go/sessions/sessionstoretest"
)

func TestRedisStore(t *testing.T) {
	// Quick availability check to allow graceful skip in environments without Redis
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	probe, err := NewFromEnv(ctx)
	if err != nil {
		t.Skipf("skipping redis store tests: %v", err)
		return
	}
	_ = probe.Close()

	sessionstoretest.RunStoreTests(t, func(t *testing.T) sessions.Store {
		s, err := New(context.Background(), Config{
			RedisAddr: probe.client.Options().Addr,
			KeyPrefix: fmt.Sprintf("mcp:sessions:test:%d:", time.Now().UnixNano()),
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
