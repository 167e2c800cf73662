package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-atlassian-go/auth"
	"github.com/ggoodman/mcp-atlassian-go/broker"
	"github.com/ggoodman/mcp-atlassian-go/internal/engine"
	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/internal/logctx"
	"github.com/ggoodman/mcp-atlassian-go/internal/sessioncore"
	"github.com/ggoodman/mcp-atlassian-go/internal/wellknown"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/sessions"
	"github.com/ggoodman/mcp-atlassian-go/sessions/memoryhost"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"

	defaultPath      = "/mcp"
	defaultMaxBody   = 4 << 20
	defaultLiveLimit = 1024
	anonymousUser    = "anonymous"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

type resourceMetadata struct {
	resource string
	servers  []string
	scopes   []string
}

// Handler serves the MCP endpoint over plain request/response HTTP. Every
// POST carries exactly one JSON-RPC message; a request is answered in the
// response body, notifications and client responses with 202.
type Handler struct {
	eng       *engine.Engine
	mux       *http.ServeMux
	log       *slog.Logger
	path      string
	mode      SessionMode
	sessions  *sessioncore.Manager
	auth      auth.Authenticator
	challenge auth.Challenge
	prm       *resourceMetadata
	maxBody   int64
	liveLimit int
	broker    broker.Broker
	origin    string

	base      context.Context
	stopBase  context.CancelFunc
	liveMu    sync.Mutex
	live      *lru.Cache[string, *engine.Conn]
	relayDone chan struct{}
}

// New builds a Handler for eng. In stateful mode without a session manager,
// sessions live in process memory.
func New(eng *engine.Engine, opts ...Option) (*Handler, error) {
	if eng == nil {
		return nil, errors.New("httptransport: engine is required")
	}
	h := &Handler{
		eng:       eng,
		log:       slog.Default(),
		path:      defaultPath,
		maxBody:   defaultMaxBody,
		liveLimit: defaultLiveLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	h.base, h.stopBase = context.WithCancel(context.Background())

	if h.mode == SessionModeStateful {
		if h.sessions == nil {
			store, err := memoryhost.New(h.liveLimit)
			if err != nil {
				return nil, fmt.Errorf("httptransport: session store: %w", err)
			}
			signer, err := sessioncore.NewMemoryJWSFromSeed(nil)
			if err != nil {
				return nil, fmt.Errorf("httptransport: session signer: %w", err)
			}
			h.sessions = sessioncore.NewManager(store, signer, sessioncore.ManagerConfig{Logger: h.log})
		}
		live, err := lru.NewWithEvict(h.liveLimit, func(_ string, c *engine.Conn) { c.Close() })
		if err != nil {
			return nil, fmt.Errorf("httptransport: live connections: %w", err)
		}
		h.live = live
		if h.broker != nil {
			h.origin = uuid.NewString()
			if err := h.startRelay(); err != nil {
				h.stopBase()
				return nil, fmt.Errorf("httptransport: broker subscribe: %w", err)
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+h.path, h.handlePost)
	mux.HandleFunc("GET "+h.path, h.handleGet)
	mux.HandleFunc("DELETE "+h.path, h.handleDelete)
	if h.prm != nil {
		doc := wellknown.ProtectedResourceMetadata{
			Resource:             h.prm.resource,
			AuthorizationServers: h.prm.servers,
			ScopesSupported:      h.prm.scopes,
			ResourceName:         eng.ServerInfo().Name,
		}
		mux.Handle(wellknown.ProtectedResourcePath, wellknown.Handler(doc))
		h.challenge.ResourceMetadataURL = resourceMetadataURL(h.prm.resource)
		h.challenge.Scopes = h.prm.scopes
	}
	h.mux = mux
	return h, nil
}

// resourceMetadataURL places the metadata document at the root of the
// resource's origin.
func resourceMetadataURL(resource string) string {
	if i := strings.Index(resource, "://"); i >= 0 {
		if j := strings.Index(resource[i+3:], "/"); j >= 0 {
			return resource[:i+3+j] + wellknown.ProtectedResourcePath
		}
	}
	return strings.TrimSuffix(resource, "/") + wellknown.ProtectedResourcePath
}

// Path returns the endpoint path.
func (h *Handler) Path() string { return h.path }

// Close closes every live connection, cancelling their invocations.
// Persisted sessions are left in the store.
func (h *Handler) Close() {
	h.stopBase()
	if h.relayDone != nil {
		<-h.relayDone
	}
	if h.live != nil {
		h.liveMu.Lock()
		h.live.Purge()
		h.liveMu.Unlock()
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeJSONError emits a transport-level rejection that happens before any
// JSON-RPC exchange is possible.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func (h *Handler) writeRPC(ctx context.Context, w http.ResponseWriter, status int, res *jsonrpc.Response) {
	b, err := jsonrpc.Encode(res)
	if err != nil {
		h.log.ErrorContext(ctx, "http.encode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		h.log.WarnContext(ctx, "http.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "http.get.unsupported")
	w.Header().Set("Allow", "POST, DELETE")
	writeJSONError(w, http.StatusMethodNotAllowed, "server-initiated streams are not supported")
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "http.post.content_type.unsupported")
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}
	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
			h.log.WarnContext(ctx, "http.post.accept.unsupported")
			writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json")
			return
		}
	}

	userID, ok := h.authenticate(ctx, w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.log.WarnContext(ctx, "http.post.too_large", slog.Int64("limit", mbe.Limit))
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.log.WarnContext(ctx, "http.post.read.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		var de *jsonrpc.DecodeError
		if !errors.As(err, &de) {
			de = &jsonrpc.DecodeError{Code: jsonrpc.ErrorCodeParseError, Message: "Parse error", Err: err}
		}
		h.log.InfoContext(ctx, "http.post.decode.invalid", slog.String("code", de.Code.String()), slog.String("err", de.Error()))
		h.writeRPC(ctx, w, http.StatusBadRequest, de.Response())
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	if h.mode == SessionModeStateless {
		h.serveStateless(ctx, w, r, userID, msg)
	} else {
		h.serveStateful(ctx, w, r, userID, msg)
	}
	h.log.InfoContext(ctx, "http.post.done", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
}

func (h *Handler) serveStateless(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, msg *jsonrpc.AnyMessage) {
	var conn *engine.Conn
	if msg.Method == string(mcp.InitializeMethod) {
		conn = h.eng.NewConnection(ctx, engine.ConnOptions{UserID: userID, Transport: "http"})
	} else {
		version := r.Header.Get(mcpProtocolVersionHeader)
		if version == "" {
			version = h.eng.PreferredProtocolVersion()
		}
		if !h.eng.SupportsProtocolVersion(version) {
			h.log.WarnContext(ctx, "http.post.protocol_version.unsupported", slog.String("version", version))
			writeJSONError(w, http.StatusBadRequest, "unsupported protocol version: "+version)
			return
		}
		conn = h.eng.Resume(ctx, &sessions.SessionMetadata{
			SessionID:       uuid.NewString(),
			UserID:          userID,
			State:           sessions.StateReady,
			ProtocolVersion: version,
		}, "http")
	}
	defer conn.Close()

	h.respond(ctx, w, msg, conn.Handle(ctx, msg))
}

func (h *Handler) serveStateful(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, msg *jsonrpc.AnyMessage) {
	token := r.Header.Get(mcpSessionIDHeader)
	if token == "" {
		if msg.Kind() == jsonrpc.KindRequest && msg.Method == string(mcp.InitializeMethod) {
			h.initializeSession(ctx, w, userID, msg)
			return
		}
		// Requests outside a session are answered by a connection that was
		// never initialized.
		conn := h.eng.NewConnection(ctx, engine.ConnOptions{UserID: userID, Transport: "http"})
		defer conn.Close()
		h.respond(ctx, w, msg, conn.Handle(ctx, msg))
		return
	}

	meta, err := h.sessions.Load(ctx, token, userID)
	if err != nil {
		if sessioncore.IsNotFound(err) {
			h.log.InfoContext(ctx, "http.session.not_found", slog.String("err", err.Error()))
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.ErrorContext(ctx, "http.session.load.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if v := r.Header.Get(mcpProtocolVersionHeader); v != "" && meta.ProtocolVersion != "" && v != meta.ProtocolVersion {
		h.log.WarnContext(ctx, "http.session.protocol_version.mismatch", slog.String("client_version", v))
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		return
	}

	conn := h.liveConn(meta)
	before := conn.State()
	res := conn.Handle(ctx, msg)
	h.persist(ctx, meta.SessionID, msg, conn, before)
	h.publishCancel(ctx, meta.SessionID, msg)

	if msg.Kind() == jsonrpc.KindRequest && res == nil {
		writeJSONError(w, http.StatusNotFound, "session closed")
		return
	}
	if meta.ProtocolVersion != "" {
		w.Header().Set(mcpProtocolVersionHeader, meta.ProtocolVersion)
	}
	h.respond(ctx, w, msg, res)
}

func (h *Handler) initializeSession(ctx context.Context, w http.ResponseWriter, userID string, msg *jsonrpc.AnyMessage) {
	probe := h.eng.NewConnection(ctx, engine.ConnOptions{UserID: userID, Transport: "http"})
	res := probe.Handle(ctx, msg)
	state := probe.Metadata()
	probe.Close()

	if res == nil {
		writeJSONError(w, http.StatusInternalServerError, "initialize produced no response")
		return
	}
	if res.Error != nil || state.State != sessions.StateInitializing {
		h.writeRPC(ctx, w, http.StatusOK, res)
		return
	}

	token, meta, err := h.sessions.Create(ctx, userID, sessioncore.Handshake{
		ProtocolVersion: state.ProtocolVersion,
		Client:          state.Client,
		Capabilities:    state.Capabilities,
	}, sessions.StateInitializing)
	if err != nil {
		h.log.ErrorContext(ctx, "http.session.create.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.liveConn(meta)

	w.Header().Set(mcpSessionIDHeader, token)
	w.Header().Set(mcpProtocolVersionHeader, meta.ProtocolVersion)
	h.writeRPC(ctx, w, http.StatusOK, res)
}

// liveConn returns the in-process connection for meta, resuming it from the
// persisted record when this process has none.
func (h *Handler) liveConn(meta *sessions.SessionMetadata) *engine.Conn {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()
	if c, ok := h.live.Get(meta.SessionID); ok {
		select {
		case <-c.Done():
			h.live.Remove(meta.SessionID)
		default:
			return c
		}
	}
	c := h.eng.Resume(h.base, meta, "http")
	h.live.Add(meta.SessionID, c)
	return c
}

// persist records lifecycle progress made by msg. A connection closed by
// shutdown deletes its session; one closed by eviction keeps it.
func (h *Handler) persist(ctx context.Context, sessionID string, msg *jsonrpc.AnyMessage, conn *engine.Conn, before sessions.SessionState) {
	after := conn.State()
	if after == before {
		return
	}
	if after == sessions.StateClosed {
		if msg.Method != string(mcp.ShutdownMethod) {
			return
		}
		h.dropSession(ctx, sessionID)
		return
	}
	if _, err := h.sessions.Transition(ctx, sessionID, after); err != nil {
		h.log.ErrorContext(ctx, "http.session.transition.fail", slog.String("to", string(after)), slog.String("err", err.Error()))
	}
}

func (h *Handler) dropSession(ctx context.Context, sessionID string) {
	h.liveMu.Lock()
	h.live.Remove(sessionID)
	h.liveMu.Unlock()
	if err := h.sessions.Delete(ctx, sessionID); err != nil {
		h.log.ErrorContext(ctx, "http.session.delete.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, res *jsonrpc.Response) {
	if msg.Kind() != jsonrpc.KindRequest {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if res == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "connection closed")
		return
	}
	h.writeRPC(ctx, w, http.StatusOK, res)
}

// handleDelete terminates a stateful session.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.mode == SessionModeStateless {
		w.Header().Set("Allow", "POST")
		writeJSONError(w, http.StatusMethodNotAllowed, "sessions are not used in stateless mode")
		return
	}
	userID, ok := h.authenticate(ctx, w, r)
	if !ok {
		return
	}
	token := r.Header.Get(mcpSessionIDHeader)
	if token == "" {
		h.log.WarnContext(ctx, "http.delete.missing_session_id")
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		return
	}
	meta, err := h.sessions.Load(ctx, token, userID)
	if err != nil {
		if sessioncore.IsNotFound(err) {
			h.log.InfoContext(ctx, "http.delete.miss")
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		h.log.ErrorContext(ctx, "http.session.load.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	h.dropSession(ctx, meta.SessionID)
	h.log.InfoContext(ctx, "http.delete.ok", slog.String("session_id", meta.SessionID))
	w.WriteHeader(http.StatusNoContent)
}

// authenticate resolves the caller. Without an authenticator every caller
// is the same anonymous user.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.auth == nil {
		return anonymousUser, true
	}
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		h.log.InfoContext(ctx, "http.auth.missing")
		w.Header().Set(wwwAuthenticateHeader, h.challenge.Header(nil))
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	scheme, tok, _ := strings.Cut(header, " ")
	tok = strings.TrimSpace(tok)
	if !strings.EqualFold(scheme, "bearer") || tok == "" {
		h.log.InfoContext(ctx, "http.auth.malformed")
		w.Header().Set(wwwAuthenticateHeader, h.challenge.Header(auth.ErrUnauthorized))
		writeJSONError(w, http.StatusUnauthorized, "malformed bearer authorization header")
		return "", false
	}
	ui, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		h.log.InfoContext(ctx, "http.auth.fail", slog.String("err", err.Error()))
		w.Header().Set(wwwAuthenticateHeader, h.challenge.Header(err))
		status := http.StatusUnauthorized
		if errors.Is(err, auth.ErrInsufficientScope) {
			status = http.StatusForbidden
		}
		writeJSONError(w, status, http.StatusText(status))
		return "", false
	}
	return ui.UserID(), true
}
