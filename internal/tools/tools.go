// Package tools defines the tools exposed by the Dataverse MCP server and
// assembles them into the registry served over stdio.
package tools

import (
	"context"
	"time"

	"github.com/powerapps-dev/dataverse-mcp/mcpservice"
)

const (
	HelloToolName       = "hello"
	ReverseEchoToolName = "reverse_echo"
	WhoAmIToolName      = "who_am_i"

	defaultGreetingTarget = "World"
	greetingPrefix        = "Hello from PowerApps MCP Server: "
)

// Options configures the registry built by NewRegistry.
type Options struct {
	// Dataverse backs who_am_i. Nil means no environment URL was configured.
	Dataverse Directory

	// Now stamps who_am_i results. Defaults to time.Now.
	Now func() time.Time
}

// NewRegistry returns the immutable tool registry in listing order: hello,
// reverse_echo, who_am_i.
func NewRegistry(opts Options) (*mcpservice.ToolsContainer, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	clock := mcpservice.WithToolClock(now)
	return mcpservice.NewToolsContainer(
		Hello(clock),
		ReverseEcho(clock),
		WhoAmI(opts.Dataverse, now),
	)
}

// HelloArgs are the arguments of the hello tool.
type HelloArgs struct {
	Message string `json:"message,omitempty" jsonschema:"description=Text to include in the greeting,default=World"`
}

// Hello greets the caller, defaulting the message to "World".
func Hello(opts ...mcpservice.ToolOption) mcpservice.StaticTool {
	opts = append([]mcpservice.ToolOption{
		mcpservice.WithToolDescription("Returns a hello world message from the PowerApps MCP Server."),
	}, opts...)
	return mcpservice.NewTool(
		HelloToolName,
		func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[HelloArgs]) error {
			msg := r.Args().Message
			if msg == "" {
				msg = defaultGreetingTarget
			}
			return w.AppendText(greetingPrefix + msg)
		},
		opts...,
	)
}

// ReverseEchoArgs are the arguments of the reverse_echo tool.
type ReverseEchoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back reversed"`
}

// ReverseEcho echoes the message back with its characters in reverse order.
func ReverseEcho(opts ...mcpservice.ToolOption) mcpservice.StaticTool {
	opts = append([]mcpservice.ToolOption{
		mcpservice.WithToolDescription("Echoes the message back in reverse from the PowerApps MCP Server."),
	}, opts...)
	return mcpservice.NewTool(
		ReverseEchoToolName,
		func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[ReverseEchoArgs]) error {
			return w.AppendText(Reverse(r.Args().Message))
		},
		opts...,
	)
}

// Reverse reverses s rune by rune, so multi-byte characters stay intact.
func Reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
