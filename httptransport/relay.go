package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-atlassian-go/broker"
	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
)

const cancelTopic = "cancel"

// cancelEnvelope carries a notifications/cancelled between processes that
// share a session store. The invocation it targets may be running in any of
// them.
type cancelEnvelope struct {
	Origin    string          `json:"origin"`
	SessionID string          `json:"session_id"`
	Params    json.RawMessage `json:"params"`
}

func (h *Handler) startRelay() error {
	stream, err := h.broker.Subscribe(h.base, cancelTopic)
	if err != nil {
		return err
	}
	h.relayDone = make(chan struct{})
	go h.relay(stream)
	return nil
}

func (h *Handler) relay(stream broker.MessageStream) {
	defer close(h.relayDone)
	defer stream.Close()
	for {
		data, err := stream.Next(h.base)
		if err != nil {
			if !errors.Is(err, broker.ErrClosed) && h.base.Err() == nil {
				h.log.Error("http.relay.fail", slog.String("err", err.Error()))
			}
			return
		}
		var env cancelEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.log.Warn("http.relay.decode.fail", slog.String("err", err.Error()))
			continue
		}
		if env.Origin == h.origin || env.SessionID == "" {
			continue
		}
		h.liveMu.Lock()
		conn, ok := h.live.Peek(env.SessionID)
		h.liveMu.Unlock()
		if !ok {
			continue
		}
		h.log.Debug("http.relay.cancel", slog.String("session_id", env.SessionID))
		conn.Handle(h.base, &jsonrpc.AnyMessage{
			JSONRPCVersion: jsonrpc.ProtocolVersion,
			Method:         string(mcp.CancelledNotificationMethod),
			Params:         env.Params,
		})
	}
}

// publishCancel forwards a client cancellation to the other processes. The
// local connection has already seen it.
func (h *Handler) publishCancel(ctx context.Context, sessionID string, msg *jsonrpc.AnyMessage) {
	if h.broker == nil || msg.Method != string(mcp.CancelledNotificationMethod) || msg.Kind() != jsonrpc.KindNotification {
		return
	}
	data, err := json.Marshal(cancelEnvelope{Origin: h.origin, SessionID: sessionID, Params: msg.Params})
	if err != nil {
		return
	}
	if err := h.broker.Publish(ctx, cancelTopic, data); err != nil {
		h.log.WarnContext(ctx, "http.relay.publish.fail", slog.String("err", err.Error()))
	}
}
