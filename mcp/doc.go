// Package mcp contains the protocol data types and constants used by the
// server. It mirrors the wire representation of the subset of the Model
// Context Protocol this server speaks (initialize, tools/list, tools/call,
// logging/setLevel and ping) while keeping the surface Go-friendly: exported
// structs with json tags and string constants for method names.
//
// The package is free of transport logic. The stdio transport frames and
// encodes these types; the engine builds them from mcpservice capabilities.
//
// # Method Names
//
// JSON-RPC method and notification names are enumerated as Method constants
// (e.g. ToolsListMethod). Both the bare "initialized" name and the namespaced
// "notifications/initialized" name are accepted for the post-initialize
// notification.
//
// # Optional fields
//
// Optional members use omitempty/omitzero so that encoded responses never carry
// extraneous nulls. BaseMetadata allows producers to attach implementation
// defined metadata under the _meta key.
//
// Example (tool result construction):
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
//
// # Logging Levels
//
// LoggingLevel values mirror syslog severities. Use IsValidLoggingLevel to
// validate user-provided values.
package mcp
