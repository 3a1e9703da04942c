package jsonrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes newline-delimited JSON-RPC messages. Each message is written
// as a single compact line and flushed before Encode returns.
type Encoder struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Encoder{bw: bw, enc: enc}
}

// Encode serializes v followed by a line terminator and flushes it.
func (e *Encoder) Encode(v any) error {
	// json.Encoder marshals fully before writing, so a failure here leaves
	// nothing buffered.
	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := e.bw.Flush(); err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}
