package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/powerapps-dev/dataverse-mcp/internal/jsonrpc"
	"github.com/powerapps-dev/dataverse-mcp/internal/logctx"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

var (
	ErrNilRequest = errors.New("nil request")
)

// Engine routes decoded JSON-RPC requests and notifications to the server
// capabilities and builds the matching responses. It is transport-agnostic;
// the stdio transport owns framing and encoding.
//
// The engine holds no per-request state. The only mutable state is the
// handshake record written by initialize and initialized.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger
	now func() time.Time

	mu          sync.Mutex
	client      *logctx.ClientData
	initialized bool
}

func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{
		srv: srv,
		log: slog.Default(),
		now: time.Now,
	}

	// Apply options (order matters; later options override earlier ones).
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// EngineOption configures a Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(m *Engine) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source used for durations and tool failure
// timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(m *Engine) {
		if now != nil {
			m.now = now
		}
	}
}

// ClientData returns the client identity recorded by initialize, if any.
func (e *Engine) ClientData() (*logctx.ClientData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, false
	}
	cd := *e.client
	return &cd, true
}

// Initialized reports whether the client has sent its initialized notification.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// HandleRequest answers a request that carries an ID. Protocol failures are
// returned as error responses; the returned error is reserved for failures
// that prevent building any response at all.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(ctx, req)
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(ctx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, req)
	case mcp.LoggingSetLevelMethod:
		return e.handleSetLoggingLevel(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, jsonrpc.MessageMethodNotFound, nil), nil
}

// HandleNotification processes a message without an ID. Notifications never
// produce a response, including unknown ones.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) error {
	if note == nil {
		return ErrNilRequest
	}
	switch mcp.Method(note.Method) {
	case mcp.InitializedMethod, mcp.InitializedNotificationMethod:
		e.mu.Lock()
		e.initialized = true
		e.mu.Unlock()
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil
	case mcp.CancelledNotificationMethod:
		// Requests are processed one at a time, so by the time a cancellation
		// is read its target has already been answered.
		var params mcp.CancelledNotification
		if len(note.Params) > 0 {
			_ = json.Unmarshal(note.Params, &params)
		}
		e.log.DebugContext(ctx, "engine.handle_notification.cancelled",
			slog.String("request_id", string(params.RequestID)),
			slog.String("reason", params.Reason),
		)
		return nil
	}

	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}

// handleInitialize answers the initialize handshake. Params are decoded
// tolerantly: unknown members are ignored and malformed params only affect
// what gets logged.
func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := e.now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.DebugContext(ctx, "engine.initialize.params_ignored", slog.String("err", err.Error()))
		}
	}

	res, err := e.initializeResult(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}

	e.mu.Lock()
	e.client = &logctx.ClientData{
		Name:            params.ClientInfo.Name,
		Version:         params.ClientInfo.Version,
		ProtocolVersion: params.ProtocolVersion,
	}
	e.mu.Unlock()

	log.InfoContext(ctx, "engine.handle_request.ok",
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_protocol_version", params.ProtocolVersion),
		slog.String("protocol_version", res.ProtocolVersion),
		slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()),
	)
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) initializeResult(ctx context.Context) (*mcp.InitializeResult, error) {
	version := mcp.LatestProtocolVersion
	if v, ok, err := e.srv.GetPreferredProtocolVersion(ctx); err != nil {
		return nil, fmt.Errorf("get preferred protocol version: %w", err)
	} else if ok && v != "" {
		version = v
	}

	serverInfo, err := e.srv.GetServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	initRes := &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    mcp.ServerCapabilities{},
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		initRes.Instructions = instr
	}

	if toolsCap, ok, err := e.srv.GetToolsCapability(ctx); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok && toolsCap != nil {
		// The registry is immutable, so the tool list never changes.
		initRes.Capabilities.Tools = &mcp.ToolsCapability{ListChanged: false}
	}

	if _, ok, err := e.srv.GetLoggingCapability(ctx); err != nil {
		return nil, fmt.Errorf("get logging capability: %w", err)
	} else if ok {
		initRes.Capabilities.Logging = &struct{}{}
	}

	return initRes, nil
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := e.now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, jsonrpc.MessageInvalidParams, nil), nil
	}

	cap, ok, err := e.srv.GetLoggingCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, jsonrpc.MessageMethodNotFound, nil), nil
	}

	if !mcp.IsValidLoggingLevel(params.Level) {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("level", string(params.Level)), slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, jsonrpc.MessageInvalidParams, fmt.Sprintf("unsupported level %q", params.Level)), nil
	}

	if err := cap.SetLevel(ctx, params.Level); err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		// Invalid level is a client error -> InvalidParams
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, jsonrpc.MessageInvalidParams, nil), nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.String("level", string(params.Level)), slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

// isJSONObject reports whether raw holds a JSON object. Leading whitespace is
// tolerated.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
