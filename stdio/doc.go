// Package stdio implements a minimal single-connection MCP transport over
// stdin/stdout. It is intended for embedding servers as subprocesses, which is
// how desktop MCP clients launch local tools.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : none; the parent process is trusted
//	Framing          : one JSON-RPC message per line, UTF-8
//	Processing       : sequential; responses are written in read order
//
// Stdout is reserved for protocol traffic. Logs belong on stderr.
//
// Options allow supplying alternate io.Reader / io.Writer or a custom logger.
//
// Example:
//
//	srv := mcpservice.NewServer(
//	    mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "my-stdio-server", Version: "0.1.0"}),
//	    mcpservice.WithToolsCapability(tools),
//	)
//	h := stdio.NewHandler(srv)
//	if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
package stdio
