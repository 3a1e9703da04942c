package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// AnyMessage is a generic JSON-RPC message (request, notification, or response).
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Request represents a JSON-RPC request (with an ID) or notification (without ID).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no usable ID and
// therefore must never be answered.
func (r *Request) IsNotification() bool {
	return r == nil || r.ID.IsNil()
}

// Response represents a JSON-RPC response. Exactly one of Result and Error is
// set. ID is always serialized and is null when the originating request's ID
// could not be recovered.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// ResponseFromError converts err into an error response. A *Error anywhere in
// the chain is used as-is; anything else is reported as an internal error.
func ResponseFromError(id *RequestID, err error) *Response {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return &Response{JSONRPCVersion: ProtocolVersion, Error: rpcErr, ID: id}
	}
	return NewErrorResponse(id, ErrorCodeInternalError, MessageInternalError, err.Error())
}

// Type returns "request" if the message is a request, "response" if it's a
// response, or "notification" if it's a notification. A message without a
// method that carries neither result nor error is classified as a request or
// notification so that it can be answered with method-not-found.
func (m *AnyMessage) Type() string {
	if m.Method == "" && (len(m.Result) > 0 || m.Error != nil) {
		return "response"
	}
	if m.ID.IsNil() {
		return "notification"
	}
	return "request"
}

// AsRequest returns the message as a Request if it is a request or
// notification, otherwise nil.
func (m *AnyMessage) AsRequest() *Request {
	if m.Type() == "response" {
		return nil
	}

	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse returns the message as a Response if it is a response message, otherwise nil.
func (m *AnyMessage) AsResponse() *Response {
	if m.Type() != "response" {
		return nil
	}

	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// Decode parses a single JSON-RPC message.
//
// Decoding is best effort: when the payload is a JSON object, the id and
// method are extracted even if other members are malformed so that the caller
// can still correlate an error response. In that case both a message and a
// non-nil error are returned. The returned error is always a *Error:
//   - syntax errors and invalid UTF-8 yield ErrorCodeParseError and a nil
//     message;
//   - valid JSON that is not an object, or an object whose id is neither a
//     string nor a number, yields ErrorCodeInvalidRequest and a nil message;
//   - a missing or unsupported "jsonrpc" member yields ErrorCodeInvalidRequest
//     together with the partially decoded message.
func Decode(data []byte) (*AnyMessage, error) {
	if !utf8.Valid(data) {
		return nil, NewError(ErrorCodeParseError, "message is not valid UTF-8")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) || !json.Valid(data) {
			return nil, NewError(ErrorCodeParseError, err.Error())
		}
		return nil, NewError(ErrorCodeInvalidRequest, "message must be a JSON object")
	}
	if fields == nil {
		return nil, NewError(ErrorCodeInvalidRequest, "message must be a JSON object")
	}

	msg := &AnyMessage{}

	if raw, ok := fields["id"]; ok && !isNull(raw) {
		var id RequestID
		if err := id.UnmarshalJSON(raw); err != nil {
			return nil, NewError(ErrorCodeInvalidRequest, err.Error())
		}
		msg.ID = &id
	}

	if raw, ok := fields["method"]; ok {
		// A non-string method is treated as absent and routed to method-not-found.
		_ = json.Unmarshal(raw, &msg.Method)
	}
	if raw, ok := fields["params"]; ok && !isNull(raw) {
		msg.Params = raw
	}
	if raw, ok := fields["result"]; ok {
		msg.Result = raw
	}
	if raw, ok := fields["error"]; ok && !isNull(raw) {
		var e Error
		if err := json.Unmarshal(raw, &e); err == nil {
			msg.Error = &e
		}
	}

	if raw, ok := fields["jsonrpc"]; ok {
		_ = json.Unmarshal(raw, &msg.JSONRPCVersion)
	}
	if msg.JSONRPCVersion != ProtocolVersion {
		return msg, NewError(ErrorCodeInvalidRequest, fmt.Sprintf("invalid JSON-RPC version: expected %q, got %q", ProtocolVersion, msg.JSONRPCVersion))
	}

	return msg, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
