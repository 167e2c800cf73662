// Package sessions defines the connection data model shared by transports and
// the dispatch engine: the lifecycle state of a connection, the metadata that
// is negotiated during the initialize handshake, and the Store contract used by
// the HTTP transport to persist that metadata between requests.
//
// Lifecycle
//
//	uninitialized -> initializing -> ready -> closed
//
// A connection starts uninitialized. A successful initialize request moves it
// to initializing; the client's notifications/initialized moves it to ready.
// Shutdown, transport end-of-stream or an explicit delete moves it to closed,
// which is terminal.
//
// # Store Interface
//
// Store keeps SessionMetadata records keyed by session ID:
//   - Create / Get / Delete     : record lifetime
//   - Mutate                    : read-modify-write under the store's own concurrency control
//   - sliding TTL               : Get and Mutate refresh LastAccess; idle records expire
//
// Implementations
//
//	memoryhost : in-process LRU, for single-node servers and tests
//	redishost  : Redis backed, for horizontally scaled HTTP deployments
//
// The sessionstoretest package holds a conformance suite every Store is
// expected to pass.
package sessions
