package httptransport

import (
	"log/slog"
	"strings"

	"github.com/ggoodman/mcp-atlassian-go/auth"
	"github.com/ggoodman/mcp-atlassian-go/broker"
	"github.com/ggoodman/mcp-atlassian-go/internal/sessioncore"
)

// SessionMode selects how connections map onto HTTP requests.
type SessionMode int

const (
	// SessionModeStateful issues an Mcp-Session-Id at initialize and keeps
	// the connection alive across requests until DELETE or shutdown.
	SessionModeStateful SessionMode = iota
	// SessionModeStateless treats every POST as its own connection.
	SessionModeStateless
)

func (m SessionMode) String() string {
	if m == SessionModeStateless {
		return "stateless"
	}
	return "stateful"
}

// ParseSessionMode accepts "stateful" or "stateless".
func ParseSessionMode(s string) (SessionMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stateful":
		return SessionModeStateful, true
	case "stateless":
		return SessionModeStateless, true
	}
	return SessionModeStateful, false
}

// Option configures a Handler.
type Option func(*Handler)

// WithPath sets the endpoint path. Defaults to /mcp.
func WithPath(p string) Option {
	return func(h *Handler) {
		if p = strings.TrimSpace(p); p != "" {
			if !strings.HasPrefix(p, "/") {
				p = "/" + p
			}
			h.path = p
		}
	}
}

// WithLogger sets the logger; records are enriched with request and session
// data from the context.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithSessionMode selects stateful (default) or stateless operation.
func WithSessionMode(m SessionMode) Option {
	return func(h *Handler) { h.mode = m }
}

// WithSessionManager sets the manager used to issue and resolve session
// IDs in stateful mode. Without one, an in-memory manager is created.
func WithSessionManager(m *sessioncore.Manager) Option {
	return func(h *Handler) { h.sessions = m }
}

// WithAuthenticator requires a bearer token on every request.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(h *Handler) { h.auth = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(h *Handler) { h.challenge.Realm = strings.TrimSpace(realm) }
}

// WithResourceMetadata publishes RFC 9728 protected resource metadata and
// references it from authentication challenges.
func WithResourceMetadata(resource string, authorizationServers, scopes []string) Option {
	return func(h *Handler) {
		h.prm = &resourceMetadata{resource: resource, servers: authorizationServers, scopes: scopes}
	}
}

// WithMaxBodyBytes bounds a POST body. Defaults to 4 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithLiveConnectionLimit bounds how many stateful connections are kept in
// process. The least recently used is closed first; its session survives in
// the store and is resumed on its next request.
func WithLiveConnectionLimit(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.liveLimit = n
		}
	}
}

// WithBroker relays client cancellations to other processes sharing the
// session store, so a notifications/cancelled reaches the invocation even
// when a load balancer routes it elsewhere. Stateful mode only.
func WithBroker(b broker.Broker) Option {
	return func(h *Handler) { h.broker = b }
}
