package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/internal/logctx"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
)

var errInvocationTimeout = errors.New("invocation timed out")

// DefaultResourceReadHint is attached to resources/read failures unless
// WithResourceReadHint overrides it.
const DefaultResourceReadHint = "resources/read only serves statically registered resources; fetch content through the corresponding tool instead"

// route runs a request on a Ready connection. It never returns nil.
func (c *Conn) route(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return c.result(ctx, req, time.Now(), mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return c.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return c.handleToolCall(ctx, req)
	case mcp.ResourcesListMethod:
		return c.handleResourcesList(ctx, req)
	case mcp.ResourcesReadMethod:
		return c.handleResourcesRead(ctx, req)
	}
	c.log.InfoContext(ctx, "engine.handle_request.unsupported", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
}

func (c *Conn) result(ctx context.Context, req *jsonrpc.Request, start time.Time, v any, attrs ...slog.Attr) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		c.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("method", req.Method), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	args := []any{slog.String("method", req.Method), durMS(start)}
	for _, a := range attrs {
		args = append(args, a)
	}
	c.log.InfoContext(ctx, "engine.handle_request.ok", args...)
	return res
}

func (c *Conn) invalidParams(ctx context.Context, req *jsonrpc.Request, start time.Time, msg string) *jsonrpc.Response {
	c.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("method", req.Method), slog.String("err", msg), durMS(start))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+msg, nil)
}

// decodeOptionalParams accepts absent params or an object.
func decodeOptionalParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] != '{' {
		return errors.New("params must be an object")
	}
	return json.Unmarshal(raw, v)
}

func (c *Conn) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	var params mcp.ListToolsRequest
	if err := decodeOptionalParams(req.Params, &params); err != nil {
		return c.invalidParams(ctx, req, start, err.Error())
	}
	tools := c.eng.reg.ListTools()
	return c.result(ctx, req, start, mcp.ListToolsResult{Tools: tools}, slog.Int("tool_count", len(tools)))
}

func (c *Conn) handleToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if !isObject(req.Params) {
		return c.invalidParams(ctx, req, start, "params must be an object")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.invalidParams(ctx, req, start, err.Error())
	}
	if params.Name == "" {
		return c.invalidParams(ctx, req, start, "missing tool name")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	tool, ok := c.eng.reg.FindTool(params.Name)
	if !ok {
		c.log.InfoContext(ctx, "engine.handle_request.unknown_tool", slog.String("method", req.Method), durMS(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUnknownTool, "Unknown tool: "+params.Name, map[string]any{"name": params.Name})
	}

	res, err := mcpservice.InvokeTool(ctx, params.Name, tool.Handler, params.Arguments)
	if err == nil && errors.Is(context.Cause(ctx), ErrCancelledByClient) {
		err = context.Cause(ctx)
	}
	if err != nil {
		return c.invocationError(ctx, req, start, err)
	}
	return c.result(ctx, req, start, res, slog.Bool("is_error", res.IsError))
}

func (c *Conn) handleResourcesList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	var params mcp.ListResourcesRequest
	if err := decodeOptionalParams(req.Params, &params); err != nil {
		return c.invalidParams(ctx, req, start, err.Error())
	}
	resources := c.eng.reg.ListResources(ctx)
	return c.result(ctx, req, start, mcp.ListResourcesResult{Resources: resources}, slog.Int("resource_count", len(resources)))
}

// handleResourcesRead serves only resources registered with a fixed URI and
// a handler. Everything else, including every resource produced by a
// lister, is answered with ErrorCodeResourceNotReadable and a hint naming
// the supported alternative.
func (c *Conn) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	var params mcp.ReadResourceRequest
	if !isObject(req.Params) {
		return c.invalidParams(ctx, req, start, "params must be an object")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.invalidParams(ctx, req, start, err.Error())
	}
	if params.URI == "" {
		return c.invalidParams(ctx, req, start, "missing uri")
	}

	res, ok := c.eng.reg.FindResource(params.URI)
	if !ok || res.Handler == nil {
		c.log.InfoContext(ctx, "engine.handle_request.not_readable", slog.String("method", req.Method), slog.String("uri", params.URI), durMS(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotReadable, "resource not readable: "+params.URI, map[string]any{
			"uri":  params.URI,
			"hint": c.eng.readHint,
		})
	}

	contents, err := mcpservice.InvokeResource(ctx, params.URI, res.Handler)
	if err != nil {
		return c.invocationError(ctx, req, start, err)
	}
	return c.result(ctx, req, start, mcp.ReadResourceResult{Contents: contents}, slog.Int("content_count", len(contents)))
}

// invocationError maps a Handler Adapter failure to its protocol error.
// Internal details are logged, never returned.
func (c *Conn) invocationError(ctx context.Context, req *jsonrpc.Request, start time.Time, err error) *jsonrpc.Response {
	var inv *mcpservice.InvalidArgumentsError
	if errors.As(err, &inv) {
		return c.invalidParams(ctx, req, start, inv.Err.Error())
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCancelledByClient) {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = err
		}
		c.log.InfoContext(ctx, "engine.handle_request.cancelled", slog.String("method", req.Method), slog.String("cause", cause.Error()), durMS(start))
		msg := "request cancelled"
		if errors.Is(cause, errInvocationTimeout) {
			msg = "request timed out"
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeRequestCancelled, msg, nil)
	}

	var he *mcpservice.HandlerError
	if errors.As(err, &he) {
		attrs := []any{
			slog.String("method", req.Method),
			slog.String("target", he.Target),
			slog.Bool("panicked", he.Panicked),
			slog.String("err", err.Error()),
			durMS(start),
		}
		if he.Panicked {
			attrs = append(attrs, slog.String("stack", string(he.Stack)))
		}
		c.log.ErrorContext(ctx, "engine.handle_request.fail", attrs...)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeHandlerFailure, he.Message, nil)
	}

	c.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("method", req.Method), slog.String("err", err.Error()), durMS(start))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
}
