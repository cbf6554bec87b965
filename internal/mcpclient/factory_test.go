package mcpclient

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpambassador/server/internal/store"
)

func TestParseServerConfig(t *testing.T) {
	cfg, err := ParseServerConfig(`{"command":"npx","args":["-y","server-echo"],"env":{"A":"1"},"timeout_ms":1500}`)
	require.NoError(t, err)
	assert.Equal(t, "npx", cfg.Command)
	assert.Equal(t, []string{"-y", "server-echo"}, cfg.Args)
	assert.Equal(t, "1.5s", cfg.InvokeTimeout(0).String())

	_, err = ParseServerConfig("{not json")
	assert.Error(t, err)

	cfg, err = ParseServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "30s", cfg.InvokeTimeout(30000000000).String())
}

func TestFactoryTransportSelection(t *testing.T) {
	f := DefaultFactory{}

	stdio, err := f.New(&store.CatalogEntry{
		Name: "echo", Transport: store.TransportStdio, Config: `{"command":"echo-server"}`,
	}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &StdioConnection{}, stdio)

	http, err := f.New(&store.CatalogEntry{
		Name: "weather", Transport: store.TransportHTTP, Config: `{"url":"https://weather.local/mcp"}`,
	}, map[string]string{"Authorization": "Bearer t"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPConnection{}, http)

	sse, err := f.New(&store.CatalogEntry{
		Name: "events", Transport: store.TransportSSE, Config: `{"url":"https://events.local/sse"}`,
	}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &SSEConnection{}, sse)
}

func TestFactoryRejectsIncompleteConfig(t *testing.T) {
	f := DefaultFactory{}

	_, err := f.New(&store.CatalogEntry{Name: "x", Transport: store.TransportStdio, Config: `{}`}, nil, nil)
	assert.Error(t, err)

	_, err = f.New(&store.CatalogEntry{Name: "x", Transport: store.TransportHTTP, Config: `{}`}, nil, nil)
	assert.Error(t, err)

	_, err = f.New(&store.CatalogEntry{Name: "x", Transport: "grpc", Config: `{}`}, nil, nil)
	assert.Error(t, err)
}

// The child environment must contain only whitelisted parent variables plus
// the explicit per-entry env; anything else in the parent env must not leak.
func TestBuildChildEnvWhitelist(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("AMBASSADOR_MASTER_KEY", "super-secret")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "leaky")

	env := buildChildEnv(map[string]string{"API_TOKEN": "t-1", "TERM": "dumb"})

	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, "PATH=/usr/bin")
	assert.Contains(t, joined, "API_TOKEN=t-1")
	// Explicit entries override the whitelisted parent value.
	assert.Contains(t, joined, "TERM=dumb")
	assert.NotContains(t, joined, "AMBASSADOR_MASTER_KEY")
	assert.NotContains(t, joined, "AWS_SECRET_ACCESS_KEY")

	if parentTerm := os.Getenv("TERM"); parentTerm != "" && parentTerm != "dumb" {
		assert.NotContains(t, joined, "TERM="+parentTerm)
	}
}

func TestErrorRing(t *testing.T) {
	ring := newErrorRing(3)
	for i := 0; i < 5; i++ {
		ring.recordLine(strings.Repeat("x", i+1))
	}
	ring.recordError(assert.AnError)

	snap := ring.snapshot()
	assert.Equal(t, []string{"xxx", "xxxx", "xxxxx"}, snap.StderrLines)
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.NotEmpty(t, snap.LastError)
}
