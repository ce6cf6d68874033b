package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a yaml configuration file, expands ${ENV} references, applies
// defaults for unset fields and validates the result. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults refills fields an explicit config file zeroed out. Partial
// files are the common case; a file that only sets providers should not
// lose the generation limits.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Generation.DefaultModel == "" {
		cfg.Generation.DefaultModel = def.Generation.DefaultModel
	}
	if cfg.Generation.MaxSteps == 0 {
		cfg.Generation.MaxSteps = def.Generation.MaxSteps
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if cfg.Generation.DefaultTemperature == 0 {
		cfg.Generation.DefaultTemperature = def.Generation.DefaultTemperature
	}
	if cfg.Generation.MaxInstructionChars == 0 {
		cfg.Generation.MaxInstructionChars = def.Generation.MaxInstructionChars
	}
	if cfg.Tools.DiscoveryTimeout == 0 {
		cfg.Tools.DiscoveryTimeout = def.Tools.DiscoveryTimeout
	}
	if cfg.Tools.CallTimeout == 0 {
		cfg.Tools.CallTimeout = def.Tools.CallTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}
