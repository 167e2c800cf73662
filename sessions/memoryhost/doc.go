// Package memoryhost provides an in-memory sessions.Store implementation
// suitable for tests, development, and single-process servers. All state is
// ephemeral and discarded on process exit.
//
// Characteristics
//
//	Durability        : none (RAM only)
//	Horizontal scale  : no (process local)
//	Capacity          : bounded LRU; least recently used records are evicted first
//	Expiry            : sliding TTL checked lazily on access
//	Concurrency       : safe (single mutex around the LRU)
//
// Example:
//
//	store, _ := memoryhost.New(0)
//	// transport wires this store into sessioncore.NewManager(...)
//
// For multi-node deployments prefer a shared store like redishost.
package memoryhost
