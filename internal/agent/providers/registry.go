package providers

import (
	"fmt"
	"sync"

	"github.com/deco-cx/agent-runtime/internal/agent"
)

// Registry builds providers on demand and reuses them per credential set.
// It implements agent.ProviderRegistry: the "anthropic" name selects the
// direct client, everything else goes through the gateway.
type Registry struct {
	// GatewayBaseURL overrides the gateway endpoint for providers built
	// without explicit credentials BaseURL.
	GatewayBaseURL string

	mu    sync.Mutex
	cache map[string]agent.LLMProvider
}

// NewRegistry creates a provider registry.
func NewRegistry(gatewayBaseURL string) *Registry {
	return &Registry{
		GatewayBaseURL: gatewayBaseURL,
		cache:          map[string]agent.LLMProvider{},
	}
}

func (r *Registry) Provider(name string, creds agent.Credentials) (agent.LLMProvider, error) {
	key := name + "|" + creds.APIKey + "|" + creds.BaseURL

	r.mu.Lock()
	defer r.mu.Unlock()
	if provider, ok := r.cache[key]; ok {
		return provider, nil
	}

	var (
		provider agent.LLMProvider
		err      error
	)
	switch name {
	case "anthropic":
		provider, err = NewAnthropicProvider(AnthropicConfig{
			APIKey:  creds.APIKey,
			BaseURL: creds.BaseURL,
		})
	default:
		baseURL := creds.BaseURL
		if baseURL == "" {
			baseURL = r.GatewayBaseURL
		}
		provider, err = NewGatewayProvider(GatewayConfig{
			APIKey:  creds.APIKey,
			BaseURL: baseURL,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("build provider %s: %w", name, err)
	}

	r.cache[key] = provider
	return provider, nil
}
