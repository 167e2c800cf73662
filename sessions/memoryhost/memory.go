package memoryhost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/sessions"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions bounds the number of records kept before the least
// recently used one is evicted.
const DefaultMaxSessions = 10_000

// Store is an in-memory implementation of sessions.Store.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *sessions.SessionMetadata]
	now   func() time.Time
}

var _ sessions.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store holding at most maxSessions records. A non-positive
// value selects DefaultMaxSessions.
func New(maxSessions int, opts ...Option) (*Store, error) {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	cache, err := lru.New[string, *sessions.SessionMetadata](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s := &Store{cache: cache, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Create(ctx context.Context, meta *sessions.SessionMetadata) error {
	if meta == nil || meta.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Peek(meta.SessionID); ok && !existing.Expired(s.now()) {
		return sessions.ErrSessionExists
	}
	cp := meta.Clone()
	if cp.LastAccess.IsZero() {
		cp.LastAccess = s.now()
	}
	s.cache.Add(cp.SessionID, cp)
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}
	meta.LastAccess = s.now()
	return meta.Clone(), nil
}

func (s *Store) Mutate(ctx context.Context, sessionID string, fn sessions.MutateFunc) (*sessions.SessionMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}
	work := meta.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	now := s.now()
	work.SessionID = sessionID
	work.UpdatedAt = now
	work.LastAccess = now
	s.cache.Add(sessionID, work)
	return work.Clone(), nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.cache.Remove(sessionID)
	s.mu.Unlock()
	return nil
}

// Len reports the number of records currently held, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Store) liveLocked(sessionID string) (*sessions.SessionMetadata, error) {
	meta, ok := s.cache.Get(sessionID)
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	if meta.Expired(s.now()) {
		s.cache.Remove(sessionID)
		return nil, sessions.ErrSessionNotFound
	}
	return meta, nil
}
