package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.DefaultModel != "anthropic:claude-sonnet-4-20250514" {
		t.Errorf("DefaultModel = %q", cfg.Generation.DefaultModel)
	}
	if cfg.Generation.MaxSteps != 10 || cfg.Generation.MaxTokens != 8192 {
		t.Errorf("limits = %d steps, %d tokens", cfg.Generation.MaxSteps, cfg.Generation.MaxTokens)
	}
	if cfg.Tools.DiscoveryTimeout != 5*time.Second {
		t.Errorf("DiscoveryTimeout = %v", cfg.Tools.DiscoveryTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
generation:
  max_steps: 3
providers:
  anthropic:
    api_key: sk-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.MaxSteps != 3 {
		t.Errorf("MaxSteps = %d, want 3", cfg.Generation.MaxSteps)
	}
	if cfg.Generation.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, default lost", cfg.Generation.MaxTokens)
	}
	if cfg.Providers["anthropic"].APIKey != "sk-test" {
		t.Errorf("provider key = %q", cfg.Providers["anthropic"].APIKey)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  anthropic:
    api_key: ${TEST_ANTHROPIC_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers["anthropic"].APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env not expanded", cfg.Providers["anthropic"].APIKey)
	}
}

func TestValidateVaultKeyLength(t *testing.T) {
	cfg := Default()
	cfg.Vault.EncryptionKey = "too-short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("err = %v, want key length error", err)
	}

	cfg.Vault.EncryptionKey = strings.Repeat("k", 32)
	if err := cfg.Validate(); err != nil {
		t.Errorf("32-byte key rejected: %v", err)
	}
}

func TestValidateThinkingBudgetFloor(t *testing.T) {
	cfg := Default()
	cfg.Generation.ThinkingBudget = 512
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sub-minimum thinking budget")
	}
	cfg.Generation.ThinkingBudget = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled thinking budget rejected: %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
generation:
  max_steps: -1
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for negative max_steps")
	}
}
