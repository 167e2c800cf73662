package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/internal/logctx"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/sessions"
)

// ReplyFunc receives the response to one request. It is called exactly once
// per request handed to Dispatch; res is nil when the connection closed
// before the response could be sent, in which case nothing must be written.
type ReplyFunc func(res *jsonrpc.Response)

type handshake struct {
	protocolVersion string
	client          sessions.ClientInfo
	caps            sessions.CapabilitySet
}

type invocation struct {
	method string
	cancel context.CancelCauseFunc
}

// Conn is the lifecycle state machine and dispatcher for one client
// connection. Lifecycle checks and request id bookkeeping happen on the
// caller's goroutine in arrival order; routed requests then run
// concurrently, so responses may complete out of order.
type Conn struct {
	eng  *Engine
	opts ConnOptions
	log  *slog.Logger

	ctx        context.Context
	cancel     context.CancelCauseFunc
	stopParent func() bool

	mu       sync.Mutex
	state    sessions.SessionState
	hs       handshake
	inflight map[string]*invocation

	// closed gates send: once set, no response leaves the connection.
	closed atomic.Bool
	sendMu sync.Mutex
	wg     sync.WaitGroup
}

func newConn(parent context.Context, e *Engine, opts ConnOptions, state sessions.SessionState, hs handshake) *Conn {
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	c := &Conn{
		eng:      e,
		opts:     opts,
		log:      e.log,
		ctx:      ctx,
		cancel:   cancel,
		state:    state,
		hs:       hs,
		inflight: make(map[string]*invocation),
	}
	c.stopParent = context.AfterFunc(parent, func() { c.closeWith(context.Cause(parent)) })
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() sessions.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Metadata returns the connection's identity, state and negotiated
// handshake in persisted form. Timestamps and TTL are left to the store.
func (c *Conn) Metadata() sessions.SessionMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sessions.SessionMetadata{
		MetaVersion:     sessions.CurrentMetaVersion,
		SessionID:       c.opts.SessionID,
		UserID:          c.opts.UserID,
		State:           c.state,
		ProtocolVersion: c.hs.protocolVersion,
		Client:          c.hs.client,
		Capabilities:    c.hs.caps,
	}
}

// InFlight returns the number of outstanding requests.
func (c *Conn) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// Close moves the connection to Closed, cancels every outstanding
// invocation and suppresses their responses. It is idempotent.
func (c *Conn) Close() { c.closeWith(ErrConnectionClosed) }

// Wait blocks until every invocation goroutine has delivered its reply.
func (c *Conn) Wait() { c.wg.Wait() }

func (c *Conn) closeWith(cause error) {
	if cause == nil {
		cause = ErrConnectionClosed
	}
	c.closed.Store(true)

	c.mu.Lock()
	prev := c.state
	c.state = sessions.StateClosed
	pending := len(c.inflight)
	for _, inv := range c.inflight {
		inv.cancel(cause)
	}
	c.mu.Unlock()

	c.cancel(cause)
	c.stopParent()

	// Wait out a send that started before closed was set.
	c.sendMu.Lock()
	c.sendMu.Unlock()

	if prev != sessions.StateClosed {
		c.log.InfoContext(c.withSessionData(context.Background()), "engine.conn.closed",
			slog.String("from", string(prev)),
			slog.Int("cancelled", pending),
			slog.String("cause", cause.Error()),
		)
	}
}

func (c *Conn) send(reply ReplyFunc, res *jsonrpc.Response) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed.Load() {
		reply(nil)
		return
	}
	reply(res)
}

// Handle dispatches msg and waits for its response. It returns nil for
// notifications, client responses, and requests whose response was
// suppressed by Close.
func (c *Conn) Handle(ctx context.Context, msg *jsonrpc.AnyMessage) *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	if !c.Dispatch(ctx, msg, func(res *jsonrpc.Response) { ch <- res }) {
		return nil
	}
	return <-ch
}

// Dispatch processes one decoded message. It returns true when msg is a
// request, meaning reply will be called exactly once, possibly after
// Dispatch returns. Notifications and client responses never produce a
// reply and return false.
//
// Invocations started by Dispatch are cancelled when ctx ends, when the
// client cancels them, or when the connection closes.
func (c *Conn) Dispatch(ctx context.Context, msg *jsonrpc.AnyMessage, reply ReplyFunc) bool {
	ctx = c.withSessionData(ctx)

	switch msg.Kind() {
	case jsonrpc.KindResponse:
		c.log.DebugContext(ctx, "engine.dispatch.response_ignored", slog.String("id", msg.ID.String()))
		return false
	case jsonrpc.KindNotification:
		c.handleNotification(ctx, msg.AsRequest())
		return false
	}

	req := msg.AsRequest()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		c.send(reply, c.handleInitialize(ctx, req))
		return true
	case mcp.ShutdownMethod:
		c.handleShutdownRequest(ctx, req, reply)
		return true
	}

	c.mu.Lock()
	switch c.state {
	case sessions.StateReady:
	case sessions.StateClosed:
		c.mu.Unlock()
		c.send(reply, nil)
		return true
	default:
		state := c.state
		c.mu.Unlock()
		c.log.InfoContext(ctx, "engine.handle_request.not_initialized", slog.String("state", string(state)))
		c.send(reply, notInitialized(req.ID))
		return true
	}

	key := req.ID.Key()
	if _, dup := c.inflight[key]; dup {
		c.mu.Unlock()
		c.log.WarnContext(ctx, "engine.handle_request.duplicate_id")
		c.send(reply, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest,
			"invalid request: duplicate request id "+req.ID.String(), nil))
		return true
	}
	invCtx, cancel, release := c.invocationContext(ctx)
	c.inflight[key] = &invocation{method: req.Method, cancel: cancel}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		res := c.route(invCtx, req)
		release()

		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()

		c.send(reply, res)
	}()
	return true
}

// invocationContext derives a context carrying reqCtx's values that is
// cancelled by reqCtx, by the connection closing, or by the timeout.
func (c *Conn) invocationContext(reqCtx context.Context) (context.Context, context.CancelCauseFunc, func()) {
	base, cancel := context.WithCancelCause(context.WithoutCancel(reqCtx))
	stopReq := context.AfterFunc(reqCtx, func() { cancel(context.Cause(reqCtx)) })
	stopConn := context.AfterFunc(c.ctx, func() { cancel(context.Cause(c.ctx)) })

	ctx := base
	stopTimer := func() {}
	if c.eng.timeout > 0 {
		var tc context.CancelFunc
		ctx, tc = context.WithTimeoutCause(base, c.eng.timeout, errInvocationTimeout)
		stopTimer = tc
	}
	return ctx, cancel, func() {
		stopReq()
		stopConn()
		stopTimer()
		cancel(nil)
	}
}

func (c *Conn) withSessionData(ctx context.Context) context.Context {
	c.mu.Lock()
	sd := &logctx.SessionData{
		SessionID:       c.opts.SessionID,
		UserID:          c.opts.UserID,
		Transport:       c.opts.Transport,
		ProtocolVersion: c.hs.protocolVersion,
		State:           c.state,
	}
	c.mu.Unlock()
	return logctx.WithSessionData(ctx, sd)
}

func notInitialized(id *jsonrpc.RequestID) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeNotInitialized, "invalid request: not initialized", nil)
}

func durMS(start time.Time) slog.Attr {
	return slog.Int64("dur_ms", time.Since(start).Milliseconds())
}
