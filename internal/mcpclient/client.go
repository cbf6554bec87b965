// Package mcpclient wraps the MCP transports used to talk to downstream
// tool servers: stdio subprocesses with a strict environment whitelist, and
// SSE / streamable-HTTP connections with optional headers. Every connection
// keeps an error-history ring for operator introspection and supports
// disconnect/error callbacks.
package mcpclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// protocolVersion is the MCP protocol revision spoken to downstream servers.
const protocolVersion = "2024-11-05"

// clientName identifies the ambassador in the MCP handshake.
const clientName = "mcp-ambassador"

// Connection is one live link to a downstream tool server.
type Connection interface {
	// Name returns the catalog name of the server.
	Name() string
	// Start establishes the connection and performs the MCP handshake.
	Start(ctx context.Context) error
	// Stop cleanly shuts the connection down. Idempotent.
	Stop() error
	// IsConnected reports whether the connection is up.
	IsConnected() bool
	// HealthCheck pings the server.
	HealthCheck(ctx context.Context) error
	// GetTools lists the server's tools.
	GetTools(ctx context.Context) ([]mcp.Tool, error)
	// InvokeTool calls one tool.
	InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// History returns a snapshot of recent errors and stderr output.
	History() HistorySnapshot
	// OnDisconnect registers a callback fired when the connection drops.
	OnDisconnect(fn func(serverName string))
	// OnError registers a callback fired on operation errors.
	OnError(fn func(serverName string, err error))
}

// baseClient carries the state shared by all transports.
type baseClient struct {
	name string

	mu        sync.RWMutex
	client    client.MCPClient
	connected bool

	history      *errorRing
	onDisconnect func(string)
	onError      func(string, error)
}

func newBaseClient(name string) baseClient {
	return baseClient{name: name, history: newErrorRing(defaultRingSize)}
}

func (b *baseClient) Name() string { return b.name }

func (b *baseClient) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *baseClient) OnDisconnect(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDisconnect = fn
}

func (b *baseClient) OnError(fn func(string, error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

func (b *baseClient) History() HistorySnapshot {
	return b.history.snapshot()
}

// recordError feeds the history ring and the error callback.
func (b *baseClient) recordError(err error) {
	b.history.recordError(err)
	b.mu.RLock()
	fn := b.onError
	b.mu.RUnlock()
	if fn != nil {
		fn(b.name, err)
	}
}

func (b *baseClient) markDisconnected() {
	b.mu.Lock()
	wasConnected := b.connected
	b.connected = false
	fn := b.onDisconnect
	b.mu.Unlock()
	if wasConnected && fn != nil {
		fn(b.name)
	}
}

func (b *baseClient) checkConnected() error {
	if !b.connected || b.client == nil {
		return fmt.Errorf("server %s is not connected", b.name)
	}
	return nil
}

// stop closes the underlying MCP client. Safe to call repeatedly.
func (b *baseClient) stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.connected = false
	b.client = nil
	return err
}

func (b *baseClient) getTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		b.history.recordError(err)
		return nil, fmt.Errorf("failed to list tools for %s: %w", b.name, err)
	}
	return result.Tools, nil
}

func (b *baseClient) invokeTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	mcpClient := b.client
	connected := b.connected
	b.mu.RUnlock()

	if !connected || mcpClient == nil {
		return nil, fmt.Errorf("server %s is not connected", b.name)
	}

	result, err := mcpClient.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		b.recordError(err)
		return nil, fmt.Errorf("tool call %s on %s failed: %w", name, b.name, err)
	}
	return result, nil
}

func (b *baseClient) ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := b.client.Ping(ctx); err != nil {
		b.history.recordError(err)
		return fmt.Errorf("ping to %s failed: %w", b.name, err)
	}
	return nil
}

// initRequest builds the standard MCP initialize request.
func initRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
}
