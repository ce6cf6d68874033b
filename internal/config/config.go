// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"
	"time"

	"github.com/deco-cx/agent-runtime/internal/observability"
)

// Config is the main configuration structure for the agent runtime.
type Config struct {
	Generation GenerationConfig          `yaml:"generation"`
	Tools      ToolsConfig               `yaml:"tools"`
	Database   DatabaseConfig            `yaml:"database"`
	Vault      VaultConfig               `yaml:"vault"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	Logging    observability.LogConfig   `yaml:"logging"`
	Tracing    observability.TraceConfig `yaml:"tracing"`
}

// GenerationConfig bounds a single generation.
type GenerationConfig struct {
	DefaultModel        string  `yaml:"default_model"`
	MaxSteps            int     `yaml:"max_steps"`
	MaxTokens           int     `yaml:"max_tokens"`
	ThinkingBudget      int     `yaml:"thinking_budget"`
	DefaultTemperature  float64 `yaml:"default_temperature"`
	MaxInstructionChars int     `yaml:"max_instruction_chars"`
}

// ToolsConfig bounds tool discovery and execution.
type ToolsConfig struct {
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// DatabaseConfig selects the thread store backend.
type DatabaseConfig struct {
	// Path is the SQLite database file. Empty selects the in-memory store.
	Path string `yaml:"path"`
}

// VaultConfig configures the model credential vault.
type VaultConfig struct {
	// EncryptionKey must be exactly 32 bytes when set. Empty disables the
	// vault and the default model registry applies everywhere.
	EncryptionKey string `yaml:"encryption_key"`
}

// ProviderConfig holds credentials for one LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Default returns the built-in configuration. Every limit is explicit here;
// nothing else in the runtime hard-codes a fallback.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			DefaultModel:        "anthropic:claude-sonnet-4-20250514",
			MaxSteps:            10,
			MaxTokens:           8192,
			ThinkingBudget:      1024,
			DefaultTemperature:  1.0,
			MaxInstructionChars: 100_000,
		},
		Tools: ToolsConfig{
			DiscoveryTimeout: 5 * time.Second,
			CallTimeout:      60 * time.Second,
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field constraints that yaml decoding cannot.
func (c *Config) Validate() error {
	if c.Generation.DefaultModel == "" {
		return fmt.Errorf("generation.default_model is required")
	}
	if c.Generation.MaxSteps <= 0 {
		return fmt.Errorf("generation.max_steps must be positive")
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens must be positive")
	}
	if c.Generation.ThinkingBudget != 0 && c.Generation.ThinkingBudget < 1024 {
		return fmt.Errorf("generation.thinking_budget must be at least 1024 tokens")
	}
	if c.Tools.DiscoveryTimeout <= 0 {
		return fmt.Errorf("tools.discovery_timeout must be positive")
	}
	if key := c.Vault.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("vault.encryption_key must be exactly 32 bytes, got %d", len(key))
	}
	return nil
}
