package engine

import (
	"context"

	"github.com/powerapps-dev/dataverse-mcp/internal/jsonrpc"
)

// MessageWriter delivers responses to the peer. Implementations must write
// each response as one complete unit.
type MessageWriter interface {
	WriteMessage(ctx context.Context, res *jsonrpc.Response) error
}

type MessageWriterFunc func(ctx context.Context, res *jsonrpc.Response) error

func NewMessageWriterFunc(f func(ctx context.Context, res *jsonrpc.Response) error) MessageWriterFunc {
	return f
}

func (f MessageWriterFunc) WriteMessage(ctx context.Context, res *jsonrpc.Response) error {
	return f(ctx, res)
}
