package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
)

// ToolHandler executes a tool call. args is the client's arguments object,
// untouched; it is nil when the client sent none.
type ToolHandler interface {
	CallTool(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)
}

// ToolHandlerFunc adapts a function to ToolHandler.
type ToolHandlerFunc func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)

func (f ToolHandlerFunc) CallTool(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error) {
	return f(ctx, args)
}

// ResourceHandler returns the contents of a statically registered resource.
type ResourceHandler interface {
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
}

// ResourceHandlerFunc adapts a function to ResourceHandler.
type ResourceHandlerFunc func(ctx context.Context, uri string) ([]mcp.ResourceContents, error)

func (f ResourceHandlerFunc) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	return f(ctx, uri)
}

// ResourceLister advertises resources discovered at list time, such as the
// spaces visible to the configured account. Listed resources are
// descriptors only; they have no read handler.
type ResourceLister interface {
	ListResources(ctx context.Context) ([]mcp.Resource, error)
}

// ResourceListerFunc adapts a function to ResourceLister.
type ResourceListerFunc func(ctx context.Context) ([]mcp.Resource, error)

func (f ResourceListerFunc) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	return f(ctx)
}

// PublicError is implemented by errors whose PublicMessage may be shown to
// a client verbatim. Any other error text stays in the server logs.
type PublicError interface {
	error
	PublicMessage() string
}

// InvalidArgumentsError reports that a tool's arguments could not be decoded
// or are missing required members.
type InvalidArgumentsError struct {
	Err error
}

func (e *InvalidArgumentsError) Error() string { return "invalid arguments: " + e.Err.Error() }
func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// PublicMessage exposes the decode failure; it only ever describes the
// client's own input.
func (e *InvalidArgumentsError) PublicMessage() string { return e.Error() }

// HandlerError is the adapter's uniform failure value. Message is safe for
// clients; Err and Stack are for logs.
type HandlerError struct {
	Target   string
	Message  string
	Err      error
	Panicked bool
	Stack    []byte
}

func (e *HandlerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Target, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Target, e.Message, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

const (
	toolFailureMessage     = "Tool execution failed"
	resourceFailureMessage = "Resource read failed"
)

// InvokeTool runs h with args passed through unchanged. Panics are recovered
// and, like returned errors, reported as *HandlerError. Context errors and
// *InvalidArgumentsError are returned as-is so callers can map them to their
// own protocol codes.
func InvokeTool(ctx context.Context, name string, h ToolHandler, args json.RawMessage) (res *mcp.CallToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &HandlerError{
				Target:   name,
				Message:  toolFailureMessage,
				Err:      fmt.Errorf("panic: %v", p),
				Panicked: true,
				Stack:    debug.Stack(),
			}
		}
	}()

	res, err = h.CallTool(ctx, args)
	if err != nil {
		return nil, wrapHandlerError(name, toolFailureMessage, err)
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}
	return res, nil
}

// InvokeResource is InvokeTool's counterpart for resource reads.
func InvokeResource(ctx context.Context, uri string, h ResourceHandler) (contents []mcp.ResourceContents, err error) {
	defer func() {
		if p := recover(); p != nil {
			contents = nil
			err = &HandlerError{
				Target:   uri,
				Message:  resourceFailureMessage,
				Err:      fmt.Errorf("panic: %v", p),
				Panicked: true,
				Stack:    debug.Stack(),
			}
		}
	}()

	contents, err = h.ReadResource(ctx, uri)
	if err != nil {
		return nil, wrapHandlerError(uri, resourceFailureMessage, err)
	}
	if contents == nil {
		contents = []mcp.ResourceContents{}
	}
	return contents, nil
}

func wrapHandlerError(target, generic string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var inv *InvalidArgumentsError
	if errors.As(err, &inv) {
		return err
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	msg := generic
	var pub PublicError
	if errors.As(err, &pub) {
		if pm := pub.PublicMessage(); pm != "" {
			msg = generic + ": " + pm
		}
	}
	return &HandlerError{Target: target, Message: msg, Err: err}
}
