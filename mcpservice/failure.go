package mcpservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/powerapps-dev/dataverse-mcp/mcp"
)

// Failure is the JSON payload carried in the text block of a failed tool
// call. Tool failures are reported inside a successful JSON-RPC envelope so
// that callers can distinguish them from protocol errors.
type Failure struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Type      string    `json:"type,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorTyper is implemented by errors that want to control the type label
// reported in a Failure.
type ErrorTyper interface {
	ErrorType() string
}

// NewFailure builds the failure payload for err observed at the given time.
func NewFailure(err error, at time.Time) Failure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Failure{
		Success:   false,
		Error:     msg,
		Type:      ErrorType(err),
		Timestamp: at.UTC(),
	}
}

// FailureResult renders err as an isError CallToolResult whose single text
// block holds the JSON encoding of a Failure.
func FailureResult(err error, at time.Time) *mcp.CallToolResult {
	b, merr := json.Marshal(NewFailure(err, at))
	if merr != nil {
		return Errorf("%v", err)
	}
	res := TextResult(string(b))
	res.IsError = true
	return res
}

// ErrorType returns a short label for err. An ErrorTyper anywhere in the
// chain wins; otherwise the dynamic type name of the outermost error is used
// without its package qualifier or pointer marker.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var typer ErrorTyper
	if errors.As(err, &typer) {
		return typer.ErrorType()
	}
	name := strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "errorString", "wrapError", "wrapErrors", "joinError":
		return "Error"
	}
	return name
}
