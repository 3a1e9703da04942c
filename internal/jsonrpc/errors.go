package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603
)

// Canonical messages for the reserved error codes.
const (
	MessageParseError     = "Parse error"
	MessageInvalidRequest = "Invalid Request"
	MessageMethodNotFound = "Method not found"
	MessageInvalidParams  = "Invalid params"
	MessageInternalError  = "Internal error"
)

// Error is a JSON-RPC error object. It also satisfies the error interface so
// that decoding failures can carry their protocol code up to the dispatcher.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error for the given code using its canonical message.
func NewError(code ErrorCode, data any) *Error {
	return &Error{Code: code, Message: code.Message(), Data: data}
}

// Message returns the canonical message for a reserved code.
func (c ErrorCode) Message() string {
	switch c {
	case ErrorCodeParseError:
		return MessageParseError
	case ErrorCodeInvalidRequest:
		return MessageInvalidRequest
	case ErrorCodeMethodNotFound:
		return MessageMethodNotFound
	case ErrorCodeInvalidParams:
		return MessageInvalidParams
	case ErrorCodeInternalError:
		return MessageInternalError
	default:
		return "Server error"
	}
}
