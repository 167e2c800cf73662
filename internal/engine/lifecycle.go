package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/internal/logctx"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/sessions"
)

var errShutdownRequested = errors.New("shutdown requested")

func (c *Conn) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	log := c.log.With(slog.String("method", req.Method))

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case sessions.StateUninitialized:
	case sessions.StateClosed:
		return nil
	default:
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "already initialized"), durMS(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "invalid request: already initialized", nil)
	}

	params, err := parseInitializeParams(req.Params)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), durMS(start))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !c.eng.SupportsProtocolVersion(params.ProtocolVersion) {
		log.InfoContext(ctx, "engine.handle_request.invalid",
			slog.String("err", "unsupported protocol version"),
			slog.String("requested", params.ProtocolVersion),
			durMS(start),
		)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "unsupported protocol version", map[string]any{
			"supported": c.eng.SupportedProtocolVersions(),
			"requested": params.ProtocolVersion,
		})
	}

	result := mcp.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    c.eng.serverCapabilities(),
		ServerInfo:      c.eng.info,
		Instructions:    c.eng.instructions,
	}
	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	c.hs = handshake{
		protocolVersion: params.ProtocolVersion,
		client:          sessions.ClientInfo{Name: params.ClientInfo.Name, Version: params.ClientInfo.Version},
		caps:            sessions.CapabilitiesFrom(params.Capabilities),
	}
	c.state = sessions.StateInitializing

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("protocol_version", params.ProtocolVersion),
		slog.String("client", params.ClientInfo.Name),
		durMS(start),
	)
	return res
}

// parseInitializeParams validates the shape of initialize params before
// decoding them: protocolVersion must be a non-empty string, capabilities
// an object, and clientInfo an object naming the client and its version.
func parseInitializeParams(raw json.RawMessage) (*mcp.InitializeRequest, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing params")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.New("params must be an object")
	}

	var version string
	if err := json.Unmarshal(fields["protocolVersion"], &version); err != nil || version == "" {
		return nil, errors.New("protocolVersion must be a non-empty string")
	}
	if !isObject(fields["capabilities"]) {
		return nil, errors.New("capabilities must be an object")
	}
	if !isObject(fields["clientInfo"]) {
		return nil, errors.New("clientInfo must be an object")
	}
	var ci struct {
		Name    *string `json:"name"`
		Version *string `json:"version"`
	}
	if err := json.Unmarshal(fields["clientInfo"], &ci); err != nil || ci.Name == nil || ci.Version == nil {
		return nil, errors.New("clientInfo must include name and version strings")
	}

	var p mcp.InitializeRequest
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return &p, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func (c *Conn) handleShutdownRequest(ctx context.Context, req *jsonrpc.Request, reply ReplyFunc) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case sessions.StateClosed:
		c.send(reply, nil)
		return
	case sessions.StateUninitialized:
		c.log.InfoContext(ctx, "engine.handle_request.not_initialized", slog.String("state", string(state)))
		c.send(reply, notInitialized(req.ID))
		return
	}

	res, err := jsonrpc.NewResultResponse(req.ID, mcp.EmptyResult{})
	if err != nil {
		res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	c.send(reply, res)
	c.log.InfoContext(ctx, "engine.handle_request.ok", slog.String("method", req.Method))
	c.closeWith(errShutdownRequested)
}

func (c *Conn) handleNotification(ctx context.Context, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		c.mu.Lock()
		prev := c.state
		if prev == sessions.StateInitializing {
			c.state = sessions.StateReady
		}
		c.mu.Unlock()
		if prev != sessions.StateInitializing {
			c.log.WarnContext(ctx, "engine.handle_notification.out_of_order", slog.String("state", string(prev)))
			return
		}
		c.log.InfoContext(ctx, "engine.session.initialized")

	case mcp.CancelledNotificationMethod:
		var p mcp.CancelledNotification
		var id jsonrpc.RequestID
		if err := json.Unmarshal(note.Params, &p); err != nil {
			c.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		if err := json.Unmarshal(p.RequestID, &id); err != nil {
			c.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		c.mu.Lock()
		inv := c.inflight[id.Key()]
		c.mu.Unlock()
		if inv == nil {
			c.log.DebugContext(ctx, "engine.handle_notification.cancel_unknown", slog.String("request_id", id.String()))
			return
		}
		inv.cancel(ErrCancelledByClient)
		c.log.InfoContext(ctx, "engine.handle_notification.cancelled",
			slog.String("request_id", id.String()),
			slog.String("target_method", inv.method),
			slog.String("reason", p.Reason),
		)

	case mcp.ShutdownMethod:
		if st := c.State(); st == sessions.StateUninitialized || st == sessions.StateClosed {
			c.log.InfoContext(ctx, "engine.handle_notification.ignored", slog.String("state", string(st)))
			return
		}
		c.closeWith(errShutdownRequested)

	default:
		c.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}
