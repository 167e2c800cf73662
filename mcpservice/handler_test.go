package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
)

type publicErr struct{ msg string }

func (e publicErr) Error() string         { return "internal detail: " + e.msg }
func (e publicErr) PublicMessage() string { return e.msg }

func TestInvokeToolPassesArgumentsUnchanged(t *testing.T) {
	in := json.RawMessage(`{"query":"type=page",  "limit":5}`)
	var seen json.RawMessage
	h := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		seen = args
		return TextResult("ok"), nil
	})
	res, err := InvokeTool(context.Background(), "t", h, in)
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if !bytes.Equal(seen, in) {
		t.Fatalf("arguments changed: %s", seen)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "ok" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestInvokeToolRecoversPanic(t *testing.T) {
	h := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		panic("secret token abc123")
	})
	res, err := InvokeTool(context.Background(), "boom", h, nil)
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
	var he *HandlerError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HandlerError, got %T %v", err, err)
	}
	if !he.Panicked || len(he.Stack) == 0 || he.Target != "boom" {
		t.Fatalf("unexpected handler error: %+v", he)
	}
	if strings.Contains(he.Message, "abc123") {
		t.Fatalf("panic value leaked into public message: %q", he.Message)
	}
}

func TestInvokeToolErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		message string
	}{
		{"opaque", errors.New("dial tcp 10.0.0.1:443: refused"), "Tool execution failed"},
		{"public", publicErr{msg: "page not found"}, "Tool execution failed: page not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
				return nil, tc.err
			})
			_, err := InvokeTool(context.Background(), "t", h, nil)
			var he *HandlerError
			if !errors.As(err, &he) {
				t.Fatalf("expected *HandlerError, got %v", err)
			}
			if he.Message != tc.message {
				t.Fatalf("message = %q, want %q", he.Message, tc.message)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause not preserved")
			}
		})
	}
}

func TestInvokeToolPassesThroughContextAndArgumentErrors(t *testing.T) {
	ctxErr := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		return nil, context.Canceled
	})
	if _, err := InvokeTool(context.Background(), "t", ctxErr, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	argErr := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		return nil, &InvalidArgumentsError{Err: errors.New("bad")}
	})
	_, err := InvokeTool(context.Background(), "t", argErr, nil)
	var inv *InvalidArgumentsError
	if !errors.As(err, &inv) {
		t.Fatalf("expected *InvalidArgumentsError, got %v", err)
	}
}

func TestInvokeToolNormalizesNilResult(t *testing.T) {
	h := ToolHandlerFunc(func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
		return nil, nil
	})
	res, err := InvokeTool(context.Background(), "t", h, nil)
	if err != nil || res == nil || res.Content == nil {
		t.Fatalf("expected empty non-nil result, got %+v %v", res, err)
	}
	b, _ := json.Marshal(res)
	if string(b) != `{"content":[]}` {
		t.Fatalf("unexpected encoding %s", b)
	}
}

func TestInvokeResourceRecoversPanic(t *testing.T) {
	h := ResourceHandlerFunc(func(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
		panic("nope")
	})
	_, err := InvokeResource(context.Background(), "static://x", h)
	var he *HandlerError
	if !errors.As(err, &he) || !he.Panicked || he.Message != "Resource read failed" {
		t.Fatalf("unexpected error %v", err)
	}
}
