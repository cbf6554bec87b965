package mcpclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcpambassador/server/internal/store"
)

// ServerConfig is the opaque config blob of a catalog entry, decoded.
type ServerConfig struct {
	// Command/Args/Env configure a stdio subprocess.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// URL/Headers configure an http or sse connection.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// TimeoutMS bounds each tool invocation on this server.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// ParseServerConfig decodes a catalog entry's config blob.
func ParseServerConfig(raw string) (*ServerConfig, error) {
	var cfg ServerConfig
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// InvokeTimeout returns the per-entry invocation deadline, or fallback.
func (c *ServerConfig) InvokeTimeout(fallback time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// Factory builds connections from catalog entries. It exists as an
// interface so pool tests can substitute fake connections.
type Factory interface {
	New(entry *store.CatalogEntry, extraHeaders map[string]string, extraEnv map[string]string) (Connection, error)
}

// DefaultFactory builds real transport connections.
type DefaultFactory struct{}

// New implements Factory. extraHeaders is merged into http/sse headers and
// extraEnv into the stdio environment; both typically carry per-user
// credential material resolved from the vault.
func (DefaultFactory) New(entry *store.CatalogEntry, extraHeaders map[string]string, extraEnv map[string]string) (Connection, error) {
	cfg, err := ParseServerConfig(entry.Config)
	if err != nil {
		return nil, fmt.Errorf("catalog entry %s: %w", entry.Name, err)
	}

	switch entry.Transport {
	case store.TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("catalog entry %s: stdio transport requires a command", entry.Name)
		}
		env := make(map[string]string, len(cfg.Env)+len(extraEnv))
		for k, v := range cfg.Env {
			env[k] = v
		}
		for k, v := range extraEnv {
			env[k] = v
		}
		return NewStdioConnection(entry.Name, cfg.Command, cfg.Args, env), nil

	case store.TransportHTTP, store.TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("catalog entry %s: %s transport requires a url", entry.Name, entry.Transport)
		}
		headers := make(map[string]string, len(cfg.Headers)+len(extraHeaders))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
		for k, v := range extraHeaders {
			headers[k] = v
		}
		if entry.Transport == store.TransportSSE {
			return NewSSEConnection(entry.Name, cfg.URL, headers), nil
		}
		return NewHTTPConnection(entry.Name, cfg.URL, headers), nil

	default:
		return nil, fmt.Errorf("catalog entry %s: unsupported transport %s", entry.Name, entry.Transport)
	}
}
