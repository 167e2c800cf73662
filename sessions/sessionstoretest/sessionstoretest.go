// Package sessionstoretest provides a conformance suite for sessions.Store
// implementations.
package sessionstoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/sessions"
)

// StoreFactory creates a fresh, empty Store for a single subtest.
type StoreFactory func(t *testing.T) sessions.Store

// RunStoreTests runs the complete Store test suite against the provided factory.
func RunStoreTests(t *testing.T, factory StoreFactory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("MutatePersists", func(t *testing.T) { testMutatePersists(t, factory) })
	t.Run("MutateErrorAborts", func(t *testing.T) { testMutateErrorAborts(t, factory) })
	t.Run("MutateMissing", func(t *testing.T) { testMutateMissing(t, factory) })
	t.Run("ConcurrentMutate", func(t *testing.T) { testConcurrentMutate(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, factory) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, factory) })
}

var seq struct {
	mu sync.Mutex
	n  int
}

func newMeta(ttl time.Duration) *sessions.SessionMetadata {
	seq.mu.Lock()
	seq.n++
	n := seq.n
	seq.mu.Unlock()
	now := time.Now().UTC()
	return &sessions.SessionMetadata{
		MetaVersion: sessions.CurrentMetaVersion,
		SessionID:   fmt.Sprintf("sess-%d-%d", now.UnixNano(), n),
		UserID:      "user-1",
		State:       sessions.StateInitializing,
		Client:      sessions.ClientInfo{Name: "client", Version: "1.0.0"},
		CreatedAt:   now,
		UpdatedAt:   now,
		LastAccess:  now,
		TTL:         ttl,
	}
}

func testCreateAndGet(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != meta.SessionID || got.UserID != meta.UserID || got.State != meta.State {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Client != meta.Client {
		t.Fatalf("client info mismatch: %+v", got.Client)
	}
}

func testCreateDuplicate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, meta); !errors.Is(err, sessions.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if _, err := s.Get(context.Background(), "does-not-exist"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testMutatePersists(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := s.Mutate(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateReady
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if out.State != sessions.StateReady {
		t.Fatalf("mutate result state: %s", out.State)
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != sessions.StateReady {
		t.Fatalf("persisted state: %s", got.State)
	}
}

func testMutateErrorAborts(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	_, err := s.Mutate(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
		m.State = sessions.StateClosed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != sessions.StateInitializing {
		t.Fatalf("aborted mutation leaked: %s", got.State)
	}
}

func testMutateMissing(t *testing.T, factory StoreFactory) {
	s := factory(t)
	_, err := s.Mutate(context.Background(), "missing", func(m *sessions.SessionMetadata) error { return nil })
	if !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func testConcurrentMutate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(ctx, meta.SessionID, func(m *sessions.SessionMetadata) error {
				m.Capabilities.Sampling = !m.Capabilities.Sampling
				m.MetaVersion++
				return nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MetaVersion != sessions.CurrentMetaVersion+n {
		t.Fatalf("lost updates: meta_version=%d want %d", got.MetaVersion, sessions.CurrentMetaVersion+n)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, meta.SessionID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func testExpiry(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Second)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	if _, err := s.Get(ctx, meta.SessionID); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func testReturnsCopies(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := context.Background()
	meta := newMeta(time.Minute)
	if err := s.Create(ctx, meta); err != nil {
		t.Fatalf("create: %v", err)
	}
	meta.State = sessions.StateClosed
	got, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != sessions.StateInitializing {
		t.Fatalf("store shares memory with caller: %s", got.State)
	}
	got.UserID = "someone-else"
	again, err := s.Get(ctx, meta.SessionID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.UserID != "user-1" {
		t.Fatalf("store shares memory with caller: %s", again.UserID)
	}
}
