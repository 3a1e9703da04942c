package mcpservice

import (
	"context"

	"github.com/powerapps-dev/dataverse-mcp/mcp"
)

// ServerOption configures a concrete ServerCapabilities implementation.
type ServerOption func(*server)

type server struct {
	staticInfo            *mcp.ImplementationInfo
	staticProtocolVersion string
	staticInstructions    *string

	staticToolsCap   ToolsCapability
	staticLoggingCap LoggingCapability
}

// NewServer builds a ServerCapabilities using functional options.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets a static server info value.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.staticInfo = &info }
}

// WithProtocolVersion sets the protocol version returned from initialize.
func WithProtocolVersion(version string) ServerOption {
	return func(s *server) { s.staticProtocolVersion = version }
}

// WithInstructions sets static human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.staticInstructions = &instr }
}

// WithToolsCapability wires a ToolsCapability, typically a *ToolsContainer.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.staticToolsCap = cap }
}

// WithLoggingCapability wires a LoggingCapability.
func WithLoggingCapability(cap LoggingCapability) ServerOption {
	return func(s *server) { s.staticLoggingCap = cap }
}

// GetServerInfo implements ServerCapabilities.
func (s *server) GetServerInfo(ctx context.Context) (mcp.ImplementationInfo, error) {
	if s.staticInfo != nil {
		return *s.staticInfo, nil
	}
	// Zero value if not configured; the engine may still proceed.
	return mcp.ImplementationInfo{}, nil
}

// GetPreferredProtocolVersion implements ServerCapabilities.
func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.staticProtocolVersion != "" {
		return s.staticProtocolVersion, true, nil
	}
	return "", false, nil
}

// GetInstructions implements ServerCapabilities.
func (s *server) GetInstructions(ctx context.Context) (string, bool, error) {
	if s.staticInstructions != nil {
		return *s.staticInstructions, true, nil
	}
	return "", false, nil
}

// GetToolsCapability implements ServerCapabilities.
func (s *server) GetToolsCapability(ctx context.Context) (ToolsCapability, bool, error) {
	if s.staticToolsCap != nil {
		return s.staticToolsCap, true, nil
	}
	return nil, false, nil
}

// GetLoggingCapability implements ServerCapabilities.
func (s *server) GetLoggingCapability(ctx context.Context) (LoggingCapability, bool, error) {
	if s.staticLoggingCap != nil {
		return s.staticLoggingCap, true, nil
	}
	return nil, false, nil
}
