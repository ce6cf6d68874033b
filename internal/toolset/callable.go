package toolset

import (
	"context"
	"encoding/json"

	"github.com/deco-cx/agent-runtime/internal/mcp"
)

// CallableTool is a ready-to-call tool bound to one connection.
type CallableTool struct {
	// Name is the tool's original name as reported by the connection.
	Name string

	// Slug is the normalized, model-facing identifier.
	Slug string

	Description string
	InputSchema json.RawMessage

	// ConnectionID is the normalized identifier of the owning connection.
	ConnectionID string

	execute func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolCallResult, error)
}

// Execute invokes the tool on its connection.
func (t *CallableTool) Execute(ctx context.Context, arguments json.RawMessage) (*mcp.ToolCallResult, error) {
	return t.execute(ctx, arguments)
}

// Map is a resolved toolset: normalized connection id -> tool slug -> tool.
type Map map[string]map[string]*CallableTool

// Lookup finds a tool by connection id and slug.
func (m Map) Lookup(connectionID, slug string) (*CallableTool, bool) {
	tools, ok := m[connectionID]
	if !ok {
		return nil, false
	}
	tool, ok := tools[slug]
	return tool, ok
}

// Flatten merges all connections into a single slug-keyed map. On a slug
// collision across connections the first tool kept wins.
func (m Map) Flatten() map[string]*CallableTool {
	out := make(map[string]*CallableTool)
	for _, tools := range m {
		for slug, tool := range tools {
			if _, exists := out[slug]; !exists {
				out[slug] = tool
			}
		}
	}
	return out
}
