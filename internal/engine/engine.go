package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
	"github.com/ggoodman/mcp-atlassian-go/sessions"
)

const defaultInvocationTimeout = 2 * time.Minute

var (
	// ErrConnectionClosed is the cancellation cause of every invocation that
	// was still running when its connection closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCancelledByClient is the cancellation cause recorded when the client
	// sends notifications/cancelled for an outstanding request.
	ErrCancelledByClient = errors.New("cancelled by client")
)

// Engine is the transport-agnostic core of the server. It owns the sealed
// registry and the server's identity and hands out one Conn per client
// connection. An Engine is safe for concurrent use; connections share
// nothing mutable.
type Engine struct {
	reg          *mcpservice.Registry
	info         mcp.ImplementationInfo
	instructions string
	versions     []string
	timeout      time.Duration
	readHint     string
	log          *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) EngineOption {
	return func(e *Engine) { e.info = info }
}

// WithInstructions sets human-readable instructions returned from initialize.
func WithInstructions(instr string) EngineOption {
	return func(e *Engine) { e.instructions = instr }
}

// WithProtocolVersions restricts the accepted protocol revisions. The first
// entry is treated as the preferred one.
func WithProtocolVersions(versions ...string) EngineOption {
	return func(e *Engine) {
		if len(versions) > 0 {
			e.versions = slices.Clone(versions)
		}
	}
}

// WithInvocationTimeout bounds every tool call and resource read. Zero
// disables the bound.
func WithInvocationTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d >= 0 {
			e.timeout = d
		}
	}
}

// WithResourceReadHint sets the hint returned with resources/read failures.
func WithResourceReadHint(hint string) EngineOption {
	return func(e *Engine) {
		if hint != "" {
			e.readHint = hint
		}
	}
}

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an Engine over reg and seals it: registrations must be complete
// before the first connection exists.
func New(reg *mcpservice.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		reg:      reg,
		info:     mcp.ImplementationInfo{Name: "mcp-atlassian", Version: "dev"},
		versions: slices.Clone(mcp.SupportedProtocolVersions),
		timeout:  defaultInvocationTimeout,
		readHint: DefaultResourceReadHint,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	reg.Seal()
	return e
}

// Registry returns the sealed registry.
func (e *Engine) Registry() *mcpservice.Registry { return e.reg }

// ServerInfo returns the implementation info advertised at initialize.
func (e *Engine) ServerInfo() mcp.ImplementationInfo { return e.info }

// SupportedProtocolVersions returns the accepted revisions, preferred first.
func (e *Engine) SupportedProtocolVersions() []string { return slices.Clone(e.versions) }

// SupportsProtocolVersion reports whether v is accepted.
func (e *Engine) SupportsProtocolVersion(v string) bool { return slices.Contains(e.versions, v) }

// PreferredProtocolVersion is used when a stateless HTTP request names none.
func (e *Engine) PreferredProtocolVersion() string { return e.versions[0] }

// ConnOptions identifies a connection in logs and in the metadata it
// reports.
type ConnOptions struct {
	SessionID string
	UserID    string
	Transport string
}

// NewConnection starts a connection in the Uninitialized state. Its
// lifetime is bounded by ctx as well as by Close.
func (e *Engine) NewConnection(ctx context.Context, opts ConnOptions) *Conn {
	return newConn(ctx, e, opts, sessions.StateUninitialized, handshake{})
}

// Resume rebuilds a connection from persisted metadata, typically for an
// HTTP request that carries a session id. A record in the Closed state
// yields a closed connection.
func (e *Engine) Resume(ctx context.Context, meta *sessions.SessionMetadata, transport string) *Conn {
	hs := handshake{
		protocolVersion: meta.ProtocolVersion,
		client:          meta.Client,
		caps:            meta.Capabilities,
	}
	state := meta.State
	if !state.Valid() {
		state = sessions.StateUninitialized
	}
	c := newConn(ctx, e, ConnOptions{SessionID: meta.SessionID, UserID: meta.UserID, Transport: transport}, state, hs)
	if state == sessions.StateClosed {
		c.closeWith(ErrConnectionClosed)
	}
	return c
}

func (e *Engine) serverCapabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if e.reg.HasTools() {
		caps.Tools = &struct {
			ListChanged bool `json:"listChanged"`
		}{}
	}
	if e.reg.HasResources() {
		caps.Resources = &struct {
			ListChanged bool `json:"listChanged"`
			Subscribe   bool `json:"subscribe"`
		}{}
	}
	return caps
}
