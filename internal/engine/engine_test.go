package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/powerapps-dev/dataverse-mcp/internal/jsonrpc"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

type echoArgs struct {
	Message string `json:"message"`
}

type noArgs struct{}

func newTestEngine(t *testing.T, lv *slog.LevelVar) *Engine {
	t.Helper()
	echo := mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		return w.AppendText(r.Args().Message)
	})
	fail := mcpservice.NewTool[noArgs]("fail", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[noArgs]) error {
		return errors.New("backend unavailable")
	})
	boom := mcpservice.NewTool[noArgs]("boom", func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[noArgs]) error {
		panic("kaboom")
	})
	tools, err := mcpservice.NewToolsContainer(echo, fail, boom)
	if err != nil {
		t.Fatalf("NewToolsContainer: %v", err)
	}
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "9.9.9"}),
		mcpservice.WithToolsCapability(tools),
	}
	if lv != nil {
		opts = append(opts, mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(lv)))
	}
	return NewEngine(mcpservice.NewServer(opts...),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	)
}

// rpcID converts a Go string or number into the id token a peer would send.
// A nil id yields a notification.
func rpcID(id any) *jsonrpc.RequestID {
	if id == nil {
		return nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		panic(err)
	}
	var out jsonrpc.RequestID
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return &out
}

func idToken(id *jsonrpc.RequestID) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func request(id any, method string, params string) *jsonrpc.Request {
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: rpcID(id)}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	return req
}

func mustHandle(t *testing.T, e *Engine, req *jsonrpc.Request) *jsonrpc.Response {
	t.Helper()
	res, err := e.HandleRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleRequest(%s): %v", req.Method, err)
	}
	if res == nil {
		t.Fatalf("HandleRequest(%s): nil response", req.Method)
	}
	if idToken(res.ID) != idToken(req.ID) {
		t.Fatalf("response id %s does not match request id %s", res.ID, req.ID)
	}
	return res
}

func expectError(t *testing.T, res *jsonrpc.Response, code jsonrpc.ErrorCode) {
	t.Helper()
	if res.Error == nil {
		t.Fatalf("expected error %d, got result %s", code, res.Result)
	}
	if res.Error.Code != code {
		t.Fatalf("expected error code %d, got %d (%s)", code, res.Error.Code, res.Error.Message)
	}
	if res.Result != nil {
		t.Fatalf("error response must not carry a result")
	}
}

func decodeToolResult(t *testing.T, res *jsonrpc.Response) mcp.CallToolResult {
	t.Helper()
	if res.Error != nil {
		t.Fatalf("unexpected error %+v", res.Error)
	}
	var out mcp.CallToolResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	return out
}

func TestInitialize(t *testing.T) {
	var lv slog.LevelVar
	e := newTestEngine(t, &lv)
	res := mustHandle(t, e, request(1, "initialize", `{"protocolVersion":"2025-03-26","clientInfo":{"name":"inspector","version":"0.1"},"capabilities":{},"extra":true}`))

	var out mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("expected protocol version %q, got %q", mcp.LatestProtocolVersion, out.ProtocolVersion)
	}
	if out.ServerInfo.Name != "test-server" || out.ServerInfo.Version != "9.9.9" {
		t.Fatalf("unexpected server info %+v", out.ServerInfo)
	}
	if out.Capabilities.Tools == nil || out.Capabilities.Tools.ListChanged {
		t.Fatalf("expected tools capability with listChanged=false, got %+v", out.Capabilities.Tools)
	}
	if out.Capabilities.Logging == nil {
		t.Fatalf("expected logging capability")
	}
	cd, ok := e.ClientData()
	if !ok || cd.Name != "inspector" || cd.ProtocolVersion != "2025-03-26" {
		t.Fatalf("unexpected client data %+v", cd)
	}
}

func TestInitialize_ToleratesMalformedParams(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, params := range []string{"", `[]`, `{"clientInfo":5}`} {
		res := mustHandle(t, e, request("init", "initialize", params))
		if res.Error != nil {
			t.Fatalf("params %q: unexpected error %+v", params, res.Error)
		}
	}
	res := mustHandle(t, e, request(2, "initialize", ""))
	if strings.Contains(string(res.Result), "logging") {
		t.Fatalf("logging must not be advertised without a logging capability: %s", res.Result)
	}
}

func TestInitializedNotification(t *testing.T) {
	for _, method := range []string{"initialized", "notifications/initialized"} {
		e := newTestEngine(t, nil)
		if e.Initialized() {
			t.Fatalf("engine must start uninitialized")
		}
		if err := e.HandleNotification(context.Background(), request(nil, method, "")); err != nil {
			t.Fatalf("HandleNotification(%s): %v", method, err)
		}
		if !e.Initialized() {
			t.Fatalf("%s did not mark the engine initialized", method)
		}
	}
}

func TestNotifications_NeverFail(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, method := range []string{"notifications/cancelled", "notifications/unknown", "tools/call", ""} {
		if err := e.HandleNotification(context.Background(), request(nil, method, `{"requestId":1}`)); err != nil {
			t.Fatalf("HandleNotification(%q): %v", method, err)
		}
	}
}

func TestPing(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request("p", "ping", ""))
	if string(res.Result) != "{}" {
		t.Fatalf("expected empty object result, got %s", res.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, method := range []string{"resources/list", "Tools/List", ""} {
		res := mustHandle(t, e, request(3, method, ""))
		expectError(t, res, jsonrpc.ErrorCodeMethodNotFound)
		if res.Error.Message != "Method not found" {
			t.Fatalf("unexpected message %q", res.Error.Message)
		}
	}
}

func TestToolsList(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request(4, "tools/list", ""))
	var out mcp.ListToolsResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"echo", "fail", "boom"}
	if len(out.Tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(out.Tools))
	}
	for i, name := range want {
		if out.Tools[i].Name != name {
			t.Fatalf("tool %d: expected %q, got %q", i, name, out.Tools[i].Name)
		}
	}
}

func TestToolsList_WithoutToolsCapability(t *testing.T) {
	e := NewEngine(mcpservice.NewServer(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	res := mustHandle(t, e, request(4, "tools/list", ""))
	expectError(t, res, jsonrpc.ErrorCodeMethodNotFound)
}

func TestToolCall_Success(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request(5, "tools/call", `{"name":"echo","arguments":{"message":"abc"}}`))
	out := decodeToolResult(t, res)
	if out.IsError || len(out.Content) != 1 || out.Content[0].Text != "abc" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestToolCall_InvalidParams(t *testing.T) {
	e := newTestEngine(t, nil)
	cases := map[string]string{
		"absent params":        "",
		"null params":          `null`,
		"array params":         `["echo"]`,
		"missing name":         `{"arguments":{}}`,
		"numeric name":         `{"name":5}`,
		"empty name":           `{"name":""}`,
		"array arguments":      `{"name":"echo","arguments":[1]}`,
		"string arguments":     `{"name":"echo","arguments":"x"}`,
		"numeric arguments":    `{"name":"echo","arguments":1}`,
		"null name and params": `{"name":null}`,
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			res := mustHandle(t, e, request(6, "tools/call", params))
			expectError(t, res, jsonrpc.ErrorCodeInvalidParams)
			if res.Error.Message != "Invalid params" {
				t.Fatalf("unexpected message %q", res.Error.Message)
			}
		})
	}
}

func TestToolCall_NullArgumentsAllowed(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request(7, "tools/call", `{"name":"fail","arguments":null}`))
	out := decodeToolResult(t, res)
	if !out.IsError {
		t.Fatalf("expected tool failure result")
	}
}

func TestToolCall_UnknownTool(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request("u", "tools/call", `{"name":"nope","arguments":{}}`))
	expectError(t, res, jsonrpc.ErrorCodeInvalidParams)
	if res.Error.Message != "Unknown tool: nope" {
		t.Fatalf("unexpected message %q", res.Error.Message)
	}
}

func TestToolCall_FailureIsSuccessfulEnvelope(t *testing.T) {
	e := newTestEngine(t, nil)
	for _, tool := range []string{"fail", "boom"} {
		res := mustHandle(t, e, request(8, "tools/call", `{"name":"`+tool+`"}`))
		out := decodeToolResult(t, res)
		if !out.IsError || len(out.Content) != 1 {
			t.Fatalf("%s: expected a single error block, got %+v", tool, out)
		}
		var f mcpservice.Failure
		if err := json.Unmarshal([]byte(out.Content[0].Text), &f); err != nil {
			t.Fatalf("%s: failure payload is not JSON: %v", tool, err)
		}
		if f.Success || f.Error == "" || !f.Timestamp.Equal(fixedNow) {
			t.Fatalf("%s: unexpected failure payload %+v", tool, f)
		}
		if tool == "boom" && (f.Type != "PanicError" || !strings.Contains(f.Error, "kaboom")) {
			t.Fatalf("expected panic to be reported, got %+v", f)
		}
	}
}

func TestSetLoggingLevel(t *testing.T) {
	var lv slog.LevelVar
	e := newTestEngine(t, &lv)

	res := mustHandle(t, e, request(9, "logging/setLevel", `{"level":"debug"}`))
	if res.Error != nil {
		t.Fatalf("unexpected error %+v", res.Error)
	}
	if lv.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", lv.Level())
	}

	for _, params := range []string{`{"level":"verbose"}`, `{}`, ``, `{"level":3}`} {
		res := mustHandle(t, e, request(10, "logging/setLevel", params))
		expectError(t, res, jsonrpc.ErrorCodeInvalidParams)
	}
	if lv.Level() != slog.LevelDebug {
		t.Fatalf("invalid requests must not change the level")
	}
}

func TestSetLoggingLevel_Unsupported(t *testing.T) {
	e := newTestEngine(t, nil)
	res := mustHandle(t, e, request(11, "logging/setLevel", `{"level":"debug"}`))
	expectError(t, res, jsonrpc.ErrorCodeMethodNotFound)
}
