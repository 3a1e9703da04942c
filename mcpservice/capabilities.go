package mcpservice

import (
	"context"

	"github.com/powerapps-dev/dataverse-mcp/mcp"
)

// ServerCapabilities is consumed by the engine to answer initialize and to
// discover the tools and logging capabilities.
//
// Capability discovery methods return (cap, ok, err). A false ok indicates that
// the capability is not supported; err is reserved for unexpected failures
// while determining support.
type ServerCapabilities interface {
	// GetServerInfo returns implementation information surfaced in initialize
	// results (name, version, etc.).
	GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the server's protocol version. If ok
	// is false, the engine falls back to mcp.LatestProtocolVersion.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions included in
	// the initialize result. If ok is false, the field is omitted.
	GetInstructions(ctx context.Context) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability. If ok is false, tools
	// support is not advertised and tool methods answer method-not-found.
	GetToolsCapability(ctx context.Context) (cap ToolsCapability, ok bool, err error)

	// GetLoggingCapability returns the logging capability. If ok is false,
	// logging/setLevel answers method-not-found.
	GetLoggingCapability(ctx context.Context) (cap LoggingCapability, ok bool, err error)
}

// ToolsCapability lists and invokes tools. Implementations MUST be safe for
// concurrent reads.
type ToolsCapability interface {
	// ListTools returns every tool in a stable order.
	ListTools(ctx context.Context) ([]mcp.Tool, error)

	// CallTool invokes a named tool. Unknown names yield an error wrapping
	// ErrToolNotFound. Any other error is a failure of the tool itself.
	CallTool(ctx context.Context, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)
}

// LoggingCapability adjusts the server's log verbosity in response to
// logging/setLevel.
type LoggingCapability interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}
