package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/powerapps-dev/dataverse-mcp/mcp"
)

// NewSlogLevelVarLogging returns a LoggingCapability that maps MCP LoggingLevel
// to a provided slog.LevelVar. This adjusts the process-wide slog level when
// used with handlers created from the same LevelVar.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, level mcp.LoggingLevel) error {
	if l == nil || l.lv == nil {
		return nil
	}
	slogLevel, err := SlogLevel(level)
	if err != nil {
		return err
	}
	l.lv.Set(slogLevel)
	return nil
}

// SlogLevel maps an MCP logging level onto the closest slog level.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		// Map notice to info
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		// Map error and above to error
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, ErrInvalidLoggingLevel
	}
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")
