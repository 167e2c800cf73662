package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// maxMutateAttempts bounds optimistic transaction retries under contention.
const maxMutateAttempts = 100

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
}

// Store keeps session metadata as JSON strings with a native Redis TTL.
type Store struct {
	client    *redis.Client
	ownClient bool
	keyPrefix string
}

var _ sessions.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	s, err := NewWithClient(ctx, cl, cfg.KeyPrefix)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	s.ownClient = true
	return s, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership of cl;
// Close does not close it.
func NewWithClient(ctx context.Context, cl *redis.Client, keyPrefix string) (*Store, error) {
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "mcp:sessions:"
	}
	return &Store{client: cl, keyPrefix: keyPrefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags; ErrNoTargetFieldsAreSet is not fatal.
	_ = envdecode.Decode(&cfg)
	return New(ctx, cfg)
}

// Close closes the Redis client if the store created it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(sessionID string) string { return s.keyPrefix + "meta:" + sessionID }

func (s *Store) Create(ctx context.Context, meta *sessions.SessionMetadata) error {
	if meta == nil || meta.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	cp := meta.Clone()
	if cp.LastAccess.IsZero() {
		cp.LastAccess = time.Now().UTC()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(cp.SessionID), data, ttlOf(cp)).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	return nil
}

func (s *Store) Get(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	key := s.key(sessionID)
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var meta sessions.SessionMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	// Slide the window; Redis owns expiry so LastAccess is informational here.
	if ttl := ttlOf(&meta); ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return nil, fmt.Errorf("redis expire: %w", err)
		}
	}
	meta.LastAccess = time.Now().UTC()
	return &meta, nil
}

func (s *Store) Mutate(ctx context.Context, sessionID string, fn sessions.MutateFunc) (*sessions.SessionMetadata, error) {
	key := s.key(sessionID)
	var out *sessions.SessionMetadata

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sessions.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var meta sessions.SessionMetadata
		if err := json.Unmarshal(b, &meta); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if err := fn(&meta); err != nil {
			return err
		}
		now := time.Now().UTC()
		meta.SessionID = sessionID
		meta.UpdatedAt = now
		meta.LastAccess = now
		data, err := json.Marshal(&meta)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttlOf(&meta))
			return nil
		})
		if err == nil {
			out = &meta
		}
		return err
	}

	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("mutate session %s: too much contention", sessionID)
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ttlOf maps a non-positive TTL to "no expiry", which go-redis spells as 0.
func ttlOf(meta *sessions.SessionMetadata) time.Duration {
	if meta.TTL <= 0 {
		return 0
	}
	return meta.TTL
}
