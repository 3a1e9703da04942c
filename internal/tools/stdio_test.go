package tools_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/powerapps-dev/dataverse-mcp/internal/tools"
	"github.com/powerapps-dev/dataverse-mcp/mcp"
	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
	"github.com/powerapps-dev/dataverse-mcp/stdio"
)

type wireResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// serveScript runs the full server over a fixed input and returns one decoded
// response per output line.
func serveScript(t *testing.T, input string) []wireResponse {
	t.Helper()
	reg, err := tools.NewRegistry(tools.Options{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "PowerApps MCP Server", Version: "test"}),
		mcpservice.WithToolsCapability(reg),
	)
	var out bytes.Buffer
	h := stdio.NewHandler(srv,
		stdio.WithIO(strings.NewReader(input), &out),
		stdio.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	var res []wireResponse
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var r wireResponse
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("bad output line %q: %v", line, err)
		}
		res = append(res, r)
	}
	return res
}

func toolText(t *testing.T, r wireResponse) (string, bool) {
	t.Helper()
	if r.Error != nil {
		t.Fatalf("unexpected error envelope %+v", r.Error)
	}
	var res mcp.CallToolResult
	if err := json.Unmarshal(r.Result, &res); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %+v", res.Content)
	}
	return res.Content[0].Text, res.IsError
}

func TestServe_Session(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","id":"list","method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"reverse_echo","arguments":{"message":"abc"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"who_am_i","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"hello"}}`,
		`not valid json`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	}, "\n") + "\n"

	res := serveScript(t, input)
	if len(res) != 7 {
		t.Fatalf("expected 7 responses, got %d", len(res))
	}

	var init mcp.InitializeResult
	if err := json.Unmarshal(res[0].Result, &init); err != nil || init.ProtocolVersion == "" {
		t.Fatalf("bad initialize result %s (%v)", res[0].Result, err)
	}

	var list mcp.ListToolsResult
	if err := json.Unmarshal(res[1].Result, &list); err != nil {
		t.Fatalf("decode tools/list: %v", err)
	}
	if string(res[1].ID) != `"list"` || len(list.Tools) != 3 || list.Tools[1].Name != "reverse_echo" {
		t.Fatalf("unexpected tools/list %s", res[1].Result)
	}

	if got, isErr := toolText(t, res[2]); got != "cba" || isErr {
		t.Fatalf("reverse_echo = %q (isError=%v)", got, isErr)
	}

	who, _ := toolText(t, res[3])
	var payload struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(who), &payload); err != nil {
		t.Fatalf("who_am_i text is not JSON: %v", err)
	}
	if payload.Success || !strings.Contains(payload.Error, "not configured") {
		t.Fatalf("unexpected who_am_i payload %s", who)
	}

	if got, _ := toolText(t, res[4]); got != "Hello from PowerApps MCP Server: World" {
		t.Fatalf("hello = %q", got)
	}

	if string(res[5].ID) != "null" || res[5].Error == nil || res[5].Error.Code != -32700 {
		t.Fatalf("expected parse error with null id, got %+v", res[5])
	}

	if res[6].Error == nil || res[6].Error.Code != -32602 || res[6].Error.Message != "Unknown tool: nope" {
		t.Fatalf("expected unknown tool error, got %+v", res[6])
	}
}
