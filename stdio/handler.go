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
	"time"

	"github.com/powerapps-dev/dataverse-mcp/internal/engine"
	"github.com/powerapps-dev/dataverse-mcp/internal/jsonrpc"
	"github.com/powerapps-dev/dataverse-mcp/internal/logctx"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the provided
// mcpservice.ServerCapabilities through the engine.
type Handler struct {
	r   io.Reader
	w   io.Writer
	l   *slog.Logger
	now func() time.Time

	srv mcpservice.ServerCapabilities
	eng *engine.Engine
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		r:   os.Stdin,
		w:   os.Stdout,
		l:   slog.Default(),
		now: time.Now,
		srv: srv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.eng = engine.NewEngine(srv, engine.WithLogger(h.l), engine.WithClock(h.now))
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Serve is responsible for:
//   - JSON-RPC message framing (one message per line; blank lines are skipped)
//   - decoding, with error responses for malformed input
//   - routing requests and notifications to the engine
//   - writing exactly one response line per request, in read order
//
// Messages are processed strictly one at a time. The context is checked before
// each read; a read in progress is not interrupted. EOF is a clean shutdown and
// returns nil. A failure to write a response ends the loop with an error since
// the output stream can no longer be trusted.
func (h *Handler) Serve(ctx context.Context) error {
	br := bufio.NewReader(h.r)
	enc := jsonrpc.NewEncoder(h.w)
	out := engine.NewMessageWriterFunc(func(ctx context.Context, res *jsonrpc.Response) error {
		return enc.Encode(res)
	})

	h.l.InfoContext(ctx, "stdio.serve.start")

	var seq int64
	for {
		if err := ctx.Err(); err != nil {
			h.l.InfoContext(ctx, "stdio.serve.cancelled", slog.Int64("messages", seq))
			return err
		}

		line, readErr := br.ReadBytes('\n')
		if payload := bytes.TrimSpace(line); len(payload) > 0 {
			seq++
			if err := h.handleLine(ctx, seq, payload, out); err != nil {
				h.l.ErrorContext(ctx, "stdio.serve.write_failed", slog.String("err", err.Error()))
				return fmt.Errorf("write response: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				h.l.InfoContext(ctx, "stdio.serve.eof", slog.Int64("messages", seq))
				return nil
			}
			h.l.ErrorContext(ctx, "stdio.serve.read_failed", slog.String("err", readErr.Error()))
			return fmt.Errorf("read message: %w", readErr)
		}
	}
}

// handleLine processes one framed payload. The returned error is only ever a
// write failure.
func (h *Handler) handleLine(ctx context.Context, seq int64, payload []byte, out engine.MessageWriter) error {
	start := h.now()

	msg, decodeErr := jsonrpc.Decode(payload)
	if msg == nil {
		// Nothing to correlate with; answer with a null id.
		h.l.InfoContext(ctx, "stdio.message.invalid", slog.Int64("seq", seq), slog.String("err", decodeErr.Error()))
		return out.WriteMessage(ctx, jsonrpc.ResponseFromError(nil, decodeErr))
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
		Seq:    seq,
	})
	if cd, ok := h.eng.ClientData(); ok {
		ctx = logctx.WithClientData(ctx, cd)
	}

	if resp := msg.AsResponse(); resp != nil {
		// This server never issues requests, so there is nothing to correlate.
		h.l.DebugContext(ctx, "stdio.message.response_ignored", slog.Bool("is_error", resp.Error != nil))
		return nil
	}

	req := msg.AsRequest()
	if decodeErr != nil {
		h.l.InfoContext(ctx, "stdio.message.invalid", slog.String("err", decodeErr.Error()))
	}
	if req.IsNotification() {
		if decodeErr == nil {
			h.dispatchNotification(ctx, req)
		}
		return nil
	}

	var res *jsonrpc.Response
	if decodeErr != nil {
		res = jsonrpc.ResponseFromError(req.ID, decodeErr)
	} else {
		res = h.dispatchRequest(ctx, req)
	}

	if err := out.WriteMessage(ctx, res); err != nil {
		return err
	}
	h.l.DebugContext(ctx, "stdio.message.answered", slog.Bool("is_error", res.Error != nil), slog.Int64("dur_ms", h.now().Sub(start).Milliseconds()))
	return nil
}

// dispatchRequest routes req to the engine. Panics and unexpected errors are
// converted into internal error responses so the loop keeps running.
func (h *Handler) dispatchRequest(ctx context.Context, req *jsonrpc.Request) (res *jsonrpc.Response) {
	defer func() {
		if r := recover(); r != nil {
			h.l.ErrorContext(ctx, "stdio.dispatch.panic", slog.Any("panic", r))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, fmt.Sprint(r))
		}
	}()

	res, err := h.eng.HandleRequest(ctx, req)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.dispatch.fail", slog.String("err", err.Error()))
		return jsonrpc.ResponseFromError(req.ID, err)
	}
	if res == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, "no response produced")
	}
	return res
}

func (h *Handler) dispatchNotification(ctx context.Context, note *jsonrpc.Request) {
	defer func() {
		if r := recover(); r != nil {
			h.l.ErrorContext(ctx, "stdio.dispatch.panic", slog.Any("panic", r))
		}
	}()

	if err := h.eng.HandleNotification(ctx, note); err != nil {
		h.l.WarnContext(ctx, "stdio.dispatch.notification_failed", slog.String("err", err.Error()))
	}
}
