package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/auth/authtest"
	"github.com/ggoodman/mcp-atlassian-go/httptransport"
	"github.com/ggoodman/mcp-atlassian-go/internal/engine"
	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
)

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`

type slowProbe struct {
	started chan struct{}
}

func newServer(t *testing.T, opts ...httptransport.Option) (*httptest.Server, *slowProbe) {
	t.Helper()
	eng, probe := newEngine()
	return serve(t, eng, opts...), probe
}

func newEngine() (*engine.Engine, *slowProbe) {
	probe := &slowProbe{started: make(chan struct{}, 1)}
	reg := mcpservice.NewRegistry()
	reg.MustRegister(
		mcpservice.StaticTool{
			Descriptor: mcp.Tool{Name: "echo"},
			Handler: mcpservice.ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
				return mcpservice.TextResult(string(args)), nil
			}),
		},
		mcpservice.StaticTool{
			Descriptor: mcp.Tool{Name: "slow"},
			Handler: mcpservice.ToolHandlerFunc(func(ctx context.Context, _ json.RawMessage) (*mcp.CallToolResult, error) {
				probe.started <- struct{}{}
				<-ctx.Done()
				return nil, ctx.Err()
			}),
		},
	)
	return engine.New(reg, engine.WithLogger(discardLogger())), probe
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(t *testing.T, eng *engine.Engine, opts ...httptransport.Option) *httptest.Server {
	t.Helper()
	h, err := httptransport.New(eng, append([]httptransport.Option{httptransport.WithLogger(discardLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		h.Close()
	})
	return srv
}

type reqOpt func(*http.Request)

func withHeader(k, v string) reqOpt {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func do(t *testing.T, srv *httptest.Server, method, body string, opts ...reqOpt) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func decodeResponse(t *testing.T, b []byte) *jsonrpc.Response {
	t.Helper()
	var res jsonrpc.Response
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return &res
}

func handshake(t *testing.T, srv *httptest.Server, opts ...reqOpt) string {
	t.Helper()
	resp, b := do(t, srv, http.MethodPost, initBody, opts...)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status %d: %s", resp.StatusCode, b)
	}
	sid := resp.Header.Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatalf("initialize did not issue a session id")
	}
	if got := resp.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("protocol version header %q", got)
	}
	opts = append(opts, withHeader("Mcp-Session-Id", sid))
	resp, b = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, opts...)
	if resp.StatusCode != http.StatusAccepted || len(b) != 0 {
		t.Fatalf("initialized notification: %d %s", resp.StatusCode, b)
	}
	return sid
}

func TestStateful_HandshakeAndToolCall(t *testing.T) {
	srv, _ := newServer(t)
	sid := handshake(t, srv)

	resp, b := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools/list status %d", resp.StatusCode)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(decodeResponse(t, b).Result, &list); err != nil || len(list.Tools) != 2 || list.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tools/list: %s", b)
	}

	_, b = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":"c","method":"tools/call","params":{"name":"echo","arguments":{"q":"x"}}}`, withHeader("Mcp-Session-Id", sid))
	res := decodeResponse(t, b)
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil || out.Content[0].Text != `{"q":"x"}` || res.ID.String() != "c" {
		t.Fatalf("unexpected tools/call: %s", b)
	}
}

func TestStateful_RequestWithoutSessionIsNotInitialized(t *testing.T) {
	srv, _ := newServer(t)
	resp, b := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	res := decodeResponse(t, b)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeNotInitialized || res.ID.String() != "1" {
		t.Fatalf("unexpected response %s", b)
	}
}

func TestStateful_InitializeRequiresReadyBeforeRequests(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := do(t, srv, http.MethodPost, initBody)
	sid := resp.Header.Get("Mcp-Session-Id")

	_, b := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, withHeader("Mcp-Session-Id", sid))
	if res := decodeResponse(t, b); res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeNotInitialized {
		t.Fatalf("ping before initialized: %s", b)
	}
}

func TestStateful_UnknownOrForgedSession(t *testing.T) {
	srv, _ := newServer(t)
	resp, _ := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, withHeader("Mcp-Session-Id", "not-a-token"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

func TestStateful_ProtocolVersionMismatch(t *testing.T) {
	srv, _ := newServer(t)
	sid := handshake(t, srv)
	resp, _ := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		withHeader("Mcp-Session-Id", sid), withHeader("Mcp-Protocol-Version", "2024-11-05"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", resp.StatusCode)
	}
}

func TestStateful_DeleteAndShutdown(t *testing.T) {
	srv, _ := newServer(t)

	sid := handshake(t, srv)
	resp, _ := do(t, srv, http.MethodDelete, "", withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("request after delete: %d", resp.StatusCode)
	}

	sid = handshake(t, srv)
	resp, b := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":9,"method":"shutdown"}`, withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusOK || decodeResponse(t, b).Error != nil {
		t.Fatalf("shutdown: %d %s", resp.StatusCode, b)
	}
	resp, _ = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("request after shutdown: %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodDelete, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("delete without session: %d", resp.StatusCode)
	}
}

func TestStateful_CancellationAcrossRequests(t *testing.T) {
	srv, probe := newServer(t)
	sid := handshake(t, srv)

	done := make(chan []byte, 1)
	go func() {
		_, b := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":"s1","method":"tools/call","params":{"name":"slow"}}`, withHeader("Mcp-Session-Id", sid))
		done <- b
	}()
	select {
	case <-probe.started:
	case <-time.After(2 * time.Second):
		t.Fatal("slow tool never started")
	}

	resp, _ := do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":"s1"}}`, withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}
	select {
	case b := <-done:
		if res := decodeResponse(t, b); res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeRequestCancelled {
			t.Fatalf("unexpected response %s", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled call never answered")
	}
}

func TestPost_Rejections(t *testing.T) {
	srv, _ := newServer(t, httptransport.WithMaxBodyBytes(1024))

	tests := []struct {
		name   string
		method string
		body   string
		opts   []reqOpt
		status int
		rpc    jsonrpc.ErrorCode
		id     string
	}{
		{name: "content type", method: http.MethodPost, body: initBody, opts: []reqOpt{withHeader("Content-Type", "text/plain")}, status: http.StatusUnsupportedMediaType},
		{name: "accept", method: http.MethodPost, body: initBody, opts: []reqOpt{withHeader("Accept", "text/event-stream")}, status: http.StatusNotAcceptable},
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "parse error", method: http.MethodPost, body: `{"jsonrpc":`, status: http.StatusBadRequest, rpc: jsonrpc.ErrorCodeParseError, id: ""},
		{name: "empty body", method: http.MethodPost, body: ``, status: http.StatusBadRequest, rpc: jsonrpc.ErrorCodeParseError},
		{name: "bad version recovers id", method: http.MethodPost, body: `{"jsonrpc":"1.0","id":5,"method":"ping"}`, status: http.StatusBadRequest, rpc: jsonrpc.ErrorCodeInvalidRequest, id: "5"},
		{name: "batch", method: http.MethodPost, body: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, status: http.StatusBadRequest, rpc: jsonrpc.ErrorCodeInvalidRequest},
		{name: "too large", method: http.MethodPost, body: `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"x":"` + strings.Repeat("a", 2048) + `"}}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, b := do(t, srv, tt.method, tt.body, tt.opts...)
			if resp.StatusCode != tt.status {
				t.Fatalf("want %d, got %d: %s", tt.status, resp.StatusCode, b)
			}
			if tt.rpc == 0 {
				return
			}
			if !bytes.Contains(b, []byte(`"id":`)) {
				t.Fatalf("error body lacks id member: %s", b)
			}
			res := decodeResponse(t, b)
			if res.Error == nil || res.Error.Code != tt.rpc || res.ID.String() != tt.id {
				t.Fatalf("unexpected body %s", b)
			}
		})
	}
}

func TestStateless(t *testing.T) {
	srv, _ := newServer(t, httptransport.WithSessionMode(httptransport.SessionModeStateless))

	resp, b := do(t, srv, http.MethodPost, initBody)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Mcp-Session-Id") != "" || decodeResponse(t, b).Error != nil {
		t.Fatalf("stateless initialize: %d %v %s", resp.StatusCode, resp.Header, b)
	}

	resp, b = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, withHeader("Mcp-Protocol-Version", "2025-03-26"))
	if resp.StatusCode != http.StatusOK || decodeResponse(t, b).Error != nil {
		t.Fatalf("stateless tools/list: %d %s", resp.StatusCode, b)
	}

	resp, _ = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, withHeader("Mcp-Protocol-Version", "1999-01-01"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported version: %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, http.MethodDelete, "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("stateless delete: %d", resp.StatusCode)
	}
}

func TestAuthentication(t *testing.T) {
	tokens := authtest.StaticTokens{"alice-token": "alice", "bob-token": "bob"}
	srv, _ := newServer(t,
		httptransport.WithAuthenticator(tokens),
		httptransport.WithRealm("mcp"),
		httptransport.WithResourceMetadata("https://mcp.example.com/mcp", []string{"https://issuer.example.com"}, []string{"mcp"}),
	)

	resp, _ := do(t, srv, http.MethodPost, initBody)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", resp.StatusCode)
	}
	want := `Bearer realm="mcp", resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`
	if got := resp.Header.Get("WWW-Authenticate"); got != want {
		t.Fatalf("challenge %q", got)
	}

	resp, _ = do(t, srv, http.MethodPost, initBody, withHeader("Authorization", "Bearer nope"))
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(resp.Header.Get("WWW-Authenticate"), `error="invalid_token"`) {
		t.Fatalf("invalid token: %d %q", resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
	}

	alice := withHeader("Authorization", "Bearer alice-token")
	sid := handshake(t, srv, alice)

	resp, _ = do(t, srv, http.MethodPost, `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		withHeader("Authorization", "Bearer bob-token"), withHeader("Mcp-Session-Id", sid))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session reused by another user: %d", resp.StatusCode)
	}

	metaResp, err := srv.Client().Get(srv.URL + "/.well-known/oauth-protected-resource")
	if err != nil {
		t.Fatal(err)
	}
	defer metaResp.Body.Close()
	var doc map[string]any
	if err := json.NewDecoder(metaResp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc["resource"] != "https://mcp.example.com/mcp" || fmt.Sprint(doc["authorization_servers"]) != "[https://issuer.example.com]" {
		t.Fatalf("unexpected metadata %v", doc)
	}
}

func TestCustomPath(t *testing.T) {
	srv, _ := newServer(t, httptransport.WithPath("rpc"))
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rpc", strings.NewReader(initBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("custom path: %d", resp.StatusCode)
	}
}

func TestParseSessionMode(t *testing.T) {
	for in, want := range map[string]httptransport.SessionMode{"": httptransport.SessionModeStateful, "Stateless": httptransport.SessionModeStateless} {
		if got, ok := httptransport.ParseSessionMode(in); !ok || got != want {
			t.Errorf("ParseSessionMode(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := httptransport.ParseSessionMode("sticky"); ok {
		t.Errorf("accepted unknown mode")
	}
}
