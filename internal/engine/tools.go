package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/powerapps-dev/dataverse-mcp/internal/jsonrpc"
	"github.com/powerapps-dev/dataverse-mcp/internal/logctx"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

// PanicError is reported as the tool failure when a tool handler panics.
type PanicError struct {
	Tool  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

func (e *PanicError) ErrorType() string { return "PanicError" }

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := e.now()
	log := e.log.With(slog.String("method", req.Method))

	cap, ok, err := e.srv.GetToolsCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, jsonrpc.MessageMethodNotFound, nil), nil
	}

	tools, err := cap.ListTools(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()), slog.Int("tool_count", len(tools)))

	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{Tools: tools})
}

// parseToolCallParams validates the tools/call params shape: an object with a
// non-empty string name and arguments that are absent, null or an object.
func parseToolCallParams(raw json.RawMessage) (*mcp.CallToolRequestReceived, error) {
	if !isJSONObject(raw) {
		return nil, errors.New("params must be an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	var name string
	if err := json.Unmarshal(fields["name"], &name); err != nil || name == "" {
		return nil, errors.New("name must be a non-empty string")
	}
	args := fields["arguments"]
	if isJSONNull(args) {
		args = nil
	}
	if len(args) > 0 && !isJSONObject(args) {
		return nil, errors.New("arguments must be an object")
	}
	return &mcp.CallToolRequestReceived{Name: name, Arguments: args}, nil
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := e.now()
	log := e.log.With(slog.String("method", req.Method))

	params, err := parseToolCallParams(req.Params)
	if err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, jsonrpc.MessageInvalidParams, err.Error()), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	cap, ok, err := e.srv.GetToolsCapability(ctx)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, jsonrpc.MessageInternalError, nil), nil
	}
	if !ok || cap == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, jsonrpc.MessageMethodNotFound, nil), nil
	}

	res, err := e.callTool(ctx, cap, params)
	if errors.Is(err, mcpservice.ErrToolNotFound) {
		log.InfoContext(ctx, "engine.tool_call.unknown", slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Unknown tool: "+params.Name, nil), nil
	}
	if err != nil {
		// Tool failures are business results, not protocol errors.
		attrs := []any{
			slog.String("err", err.Error()),
			slog.String("err_type", mcpservice.ErrorType(err)),
			slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()),
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.InfoContext(ctx, "engine.tool_call.cancelled", attrs...)
		} else {
			log.WarnContext(ctx, "engine.tool_call.fail", attrs...)
		}
		res = mcpservice.FailureResult(err, e.now())
	}
	if res == nil {
		res = &mcp.CallToolResult{Content: []mcp.ContentBlock{}}
	}
	if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("is_error", res.IsError), slog.Bool("initialized", e.Initialized()), slog.Int64("dur_ms", e.now().Sub(start).Milliseconds()))

	return jsonrpc.NewResultResponse(req.ID, res)
}

// callTool invokes the tool and converts a panic into a *PanicError so that a
// faulty tool is reported like any other tool failure.
func (e *Engine) callTool(ctx context.Context, cap mcpservice.ToolsCapability, params *mcp.CallToolRequestReceived) (res *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "engine.tool_call.panic", slog.Any("panic", r))
			res, err = nil, &PanicError{Tool: params.Name, Value: r}
		}
	}()
	return cap.CallTool(ctx, params)
}
