package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ToolHandler executes one innate tool call.
type ToolHandler func(ctx context.Context, arguments json.RawMessage) (*ToolCallResult, error)

// InnateProvider serves tools from in-process handlers, letting well-known
// builtin tool sources share the listing and calling contract of remote
// connections.
type InnateProvider struct {
	name string

	mu       sync.RWMutex
	tools    []ToolDescriptor
	handlers map[string]ToolHandler
}

// NewInnateProvider creates an empty innate provider.
func NewInnateProvider(name string) *InnateProvider {
	return &InnateProvider{
		name:     name,
		handlers: make(map[string]ToolHandler),
	}
}

// Name returns the provider's well-known name.
func (p *InnateProvider) Name() string {
	return p.name
}

// Register adds a tool and its handler. Registering a name twice replaces
// the previous descriptor and handler.
func (p *InnateProvider) Register(tool ToolDescriptor, handler ToolHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handlers[tool.Name]; exists {
		for i, t := range p.tools {
			if t.Name == tool.Name {
				p.tools[i] = tool
				break
			}
		}
	} else {
		p.tools = append(p.tools, tool)
	}
	p.handlers[tool.Name] = handler
}

// ListTools returns the registered tool descriptors.
func (p *InnateProvider) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ToolDescriptor, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

// CallTool invokes a registered handler.
func (p *InnateProvider) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	p.mu.RLock()
	handler, ok := p.handlers[name]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("innate tool %q not found", name)
	}
	return handler(ctx, arguments)
}

// Close implements the client surface; innate providers hold no resources.
func (p *InnateProvider) Close() error {
	return nil
}
