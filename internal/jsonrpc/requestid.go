package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
//
// The original JSON token is retained so that the ID is echoed back exactly as
// the peer sent it: 1 stays 1, 1.0 stays 1.0 and "1" stays "1".
type RequestID struct {
	raw json.RawMessage
}

// String returns the string representation of the ID. String IDs are returned
// unquoted; numeric IDs are returned in their original textual form.
func (id *RequestID) String() string {
	if id == nil || len(id.raw) == 0 {
		return ""
	}
	if id.IsString() {
		var s string
		if err := json.Unmarshal(id.raw, &s); err == nil {
			return s
		}
	}
	return string(id.raw)
}

// IsString reports whether the ID was sent as a JSON string.
func (id *RequestID) IsString() bool {
	return id != nil && len(id.raw) > 0 && id.raw[0] == '"'
}

// IsNil returns true if the ID is nil/empty.
func (id *RequestID) IsNil() bool {
	return id == nil || len(id.raw) == 0
}

// MarshalJSON implements json.Marshaler.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only strings and numbers are
// accepted; a JSON null never reaches this method for *RequestID fields.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("JSON-RPC ID must be a string or number, got nothing")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
		}
	default:
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}

	id.raw = append(json.RawMessage(nil), data...)
	return nil
}
