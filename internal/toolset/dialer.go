package toolset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deco-cx/agent-runtime/internal/connection"
	"github.com/deco-cx/agent-runtime/internal/mcp"
)

// MCPDialer dials MCP connections over HTTP and serves innate providers from
// an in-process registry.
type MCPDialer struct {
	innate  map[string]*mcp.InnateProvider
	timeout time.Duration
	logger  *slog.Logger
}

// NewMCPDialer creates a dialer. Innate providers are registered up front;
// everything else is dialed over HTTP.
func NewMCPDialer(innate []*mcp.InnateProvider, timeout time.Duration, logger *slog.Logger) *MCPDialer {
	if logger == nil {
		logger = slog.Default()
	}
	providers := make(map[string]*mcp.InnateProvider, len(innate))
	for _, p := range innate {
		providers[p.Name()] = p
	}
	return &MCPDialer{
		innate:  providers,
		timeout: timeout,
		logger:  logger,
	}
}

// Dial turns a connection reference into a live ToolClient.
func (d *MCPDialer) Dial(ctx context.Context, ref connection.Ref) (ToolClient, error) {
	switch ref.Kind {
	case connection.KindInnate:
		provider, ok := d.innate[ref.Name]
		if !ok {
			return nil, fmt.Errorf("innate provider %q not registered", ref.Name)
		}
		return provider, nil

	case connection.KindHTTP, connection.KindSSE, connection.KindWebsocket:
		transport := mcp.NewHTTPTransport(mcp.HTTPTransportOptions{
			URL:     ref.URL,
			Timeout: d.timeout,
		})
		client := mcp.NewClient(transport, d.logger)
		if err := client.Initialize(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("cannot dial %s connection reference", ref.Kind)
	}
}
