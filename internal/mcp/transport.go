package mcp

import (
	"context"
	"encoding/json"
)

// Transport abstracts the wire protocol between the client and an MCP server.
type Transport interface {
	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Close releases the transport's resources.
	Close() error
}
