package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the config file at path, applies defaults and validates the
// result. An empty path yields a pure-defaults configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot safely run with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Audit.OnFailure != AuditBlock && c.Audit.OnFailure != AuditBuffer {
		return fmt.Errorf("audit.onFailure must be %q or %q, got %q", AuditBlock, AuditBuffer, c.Audit.OnFailure)
	}
	if c.Pool.MaxPerUser < 1 {
		return fmt.Errorf("pool.maxPerUser must be positive")
	}
	if c.Pool.MaxTotal < c.Pool.MaxPerUser {
		return fmt.Errorf("pool.maxTotal (%d) must be at least pool.maxPerUser (%d)", c.Pool.MaxTotal, c.Pool.MaxPerUser)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
