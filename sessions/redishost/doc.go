// Package redishost provides a Redis-backed sessions.Store so that several
// HTTP server instances behind a load balancer can share session records.
//
// Each record is a JSON string under "<prefix>meta:<session id>" with a native
// Redis expiry equal to the record's TTL. Reads slide the expiry; writes go
// through WATCH/MULTI optimistic transactions and retry on conflict.
//
// Configuration is read from the environment by NewFromEnv:
//
//	REDIS_ADDR           (default localhost:6379)
//	SESSIONS_KEY_PREFIX  (default mcp:sessions:)
//
// Example:
//
//	store, err := redishost.NewFromEnv(ctx)
//	if err != nil { log.Fatal(err) }
//	defer store.Close()
package redishost
