package sessions

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when no live record exists for an ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Create when the ID is already taken.
	ErrSessionExists = errors.New("session already exists")
)

// MutateFunc edits a record in place. Returning an error aborts the write.
type MutateFunc func(meta *SessionMetadata) error

// Store persists SessionMetadata. Implementations MUST be safe for concurrent
// use and MUST hand out copies so callers never share memory with the store.
type Store interface {
	// Create inserts a new record. It fails with ErrSessionExists if the ID is taken.
	Create(ctx context.Context, meta *SessionMetadata) error
	// Get returns the record and refreshes its sliding TTL.
	Get(ctx context.Context, sessionID string) (*SessionMetadata, error)
	// Mutate applies fn atomically with respect to other Mutate calls on the
	// same ID and returns the stored result.
	Mutate(ctx context.Context, sessionID string, fn MutateFunc) (*SessionMetadata, error)
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, sessionID string) error
}
