// Package mcpservice provides building blocks for implementing MCP server
// capabilities in a composable way. It exposes the capability interfaces
// consumed by the engine, an immutable tool registry and helpers for
// building tool results.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//	echo := mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	)
//	tools, err := mcpservice.NewToolsContainer(echo)
//	if err != nil {
//	    return err
//	}
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "example", Version: "1.0.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	    mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(levelVar)),
//	)
//
// Tool input schemas are reflected from the argument struct with
// invopop/jsonschema. Fields without omitempty are required.
//
// Tool failures are never JSON-RPC errors. A handler either writes an isError
// result itself (see Errorf and FailureResult) or returns a Go error, which the
// engine renders with FailureResult.
package mcpservice
