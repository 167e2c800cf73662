// Package httptransport serves MCP over plain HTTP request/response
// exchanges. Each POST to the endpoint carries one JSON-RPC message; the
// response to a request is the body of the HTTP response. The server never
// opens a stream to the client, so GET is rejected.
//
// # Sessions
//
// In stateful mode (the default) a successful initialize returns an
// Mcp-Session-Id header that the client echoes on later requests. The ID is
// a signed token resolved through a sessioncore.Manager, so any replica
// sharing the store (for example sessions/redishost) can resume the
// connection. DELETE ends the session.
//
// A replica only holds the in-flight work of requests it received. With
// WithBroker, a notifications/cancelled that lands on another replica is
// relayed to the one running the invocation.
//
// In stateless mode every POST is a fresh connection: initialize is answered
// but nothing persists, and other requests run as if the handshake had
// completed with the version named in Mcp-Protocol-Version.
//
// # Authentication
//
// WithAuthenticator requires a bearer token and answers failures with 401
// (403 for insufficient scope) and a WWW-Authenticate challenge.
package httptransport
