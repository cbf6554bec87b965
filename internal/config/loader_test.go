package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultAuditOnFailure, cfg.Audit.OnFailure)
	assert.Equal(t, 30*time.Second, cfg.Sessions.EvaluationInterval)
	assert.Equal(t, DefaultMaxPerUser, cfg.Pool.MaxPerUser)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
port: 9443
logLevel: debug
pool:
  maxPerUser: 2
  maxTotal: 3
audit:
  onFailure: buffer
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Pool.MaxPerUser)
	assert.Equal(t, 3, cfg.Pool.MaxTotal)
	assert.Equal(t, AuditBuffer, cfg.Audit.OnFailure)
	// Untouched fields still get defaults.
	assert.Equal(t, DefaultHost, cfg.Host)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "port: 70000"},
		{"bad audit mode", "audit:\n  onFailure: ignore"},
		{"total below per-user", "pool:\n  maxPerUser: 10\n  maxTotal: 5"},
		{"bad log level", "logLevel: verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
