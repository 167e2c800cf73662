package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-atlassian-go/internal/engine"
	"github.com/ggoodman/mcp-atlassian-go/internal/jsonrpc"
	"github.com/google/uuid"
)

// ErrAlreadyServed is returned by a second call to Serve.
var ErrAlreadyServed = errors.New("stdio: handler already served")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout. The peer is identified by a UserProvider, which
// defaults to the current OS user.
//
// The handler is transport-only; all protocol semantics live in the engine.
type Handler struct {
	eng *engine.Engine

	r            io.Reader
	w            io.Writer
	l            *slog.Logger
	userProvider UserProvider

	writeMu sync.Mutex
	served  atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(eng *engine.Engine, opts ...Option) *Handler {
	h := &Handler{
		eng:          eng,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the stdio event loop until EOF on the reader, a shutdown from
// the client, or cancellation of ctx. It may be called once per Handler.
//
// Frames are newline-delimited JSON values of any length; blank lines are
// skipped. When Serve returns, the connection is closed, every outstanding
// invocation has been cancelled and no further output is written. EOF and
// shutdown return nil; cancellation returns ctx.Err().
func (h *Handler) Serve(ctx context.Context) error {
	if !h.served.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}

	userID, err := h.userProvider.CurrentUserID()
	if err != nil {
		return fmt.Errorf("stdio: resolve user: %w", err)
	}

	conn := h.eng.NewConnection(ctx, engine.ConnOptions{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Transport: "stdio",
	})
	defer func() {
		conn.Close()
		conn.Wait()
	}()

	h.l.InfoContext(ctx, "stdio.serve.start", slog.String("user_id", userID))

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go h.readLoop(frames, readErr, stop)

	for {
		select {
		case <-ctx.Done():
			h.l.InfoContext(ctx, "stdio.serve.cancelled")
			return ctx.Err()
		case <-conn.Done():
			h.l.InfoContext(ctx, "stdio.serve.shutdown")
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				h.l.InfoContext(ctx, "stdio.serve.eof")
				return nil
			}
			h.l.ErrorContext(ctx, "stdio.read.fail", slog.String("err", err.Error()))
			return fmt.Errorf("stdio: read: %w", err)
		case frame := <-frames:
			h.handleFrame(ctx, conn, frame)
		}
	}
}

// readLoop runs on its own goroutine because a blocking Read cannot be
// interrupted by ctx.
func (h *Handler) readLoop(frames chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	br := bufio.NewReader(h.r)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case frames <- line:
			case <-stop:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *engine.Conn, frame []byte) {
	msg, err := jsonrpc.Decode(frame)
	if err != nil {
		var de *jsonrpc.DecodeError
		if !errors.As(err, &de) {
			h.l.ErrorContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()))
			return
		}
		if de.ID.IsNil() {
			h.l.WarnContext(ctx, "stdio.decode.dropped",
				slog.String("code", de.Code.String()),
				slog.String("err", de.Error()),
				slog.Int("len", len(frame)),
			)
			return
		}
		h.l.InfoContext(ctx, "stdio.decode.invalid", slog.String("id", de.ID.String()), slog.String("err", de.Error()))
		h.writeResponse(ctx, de.Response())
		return
	}

	conn.Dispatch(ctx, msg, func(res *jsonrpc.Response) {
		if res == nil {
			return
		}
		h.writeResponse(ctx, res)
	})
}

func (h *Handler) writeResponse(ctx context.Context, res *jsonrpc.Response) {
	b, err := jsonrpc.Encode(res)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.encode.fail", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
