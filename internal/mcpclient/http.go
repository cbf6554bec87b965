package mcpclient

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/pkg/logging"
)

// HTTPConnection talks to a remote tool server over streamable HTTP.
type HTTPConnection struct {
	baseClient
	url     string
	headers map[string]string
}

// NewHTTPConnection creates a streamable-HTTP connection with optional
// headers (typically an Authorization header resolved from the vault).
func NewHTTPConnection(name, url string, headers map[string]string) *HTTPConnection {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &HTTPConnection{
		baseClient: newBaseClient(name),
		url:        url,
		headers:    headers,
	}
}

// Start implements Connection.
func (c *HTTPConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		c.history.recordError(err)
		return fmt.Errorf("failed to create HTTP client for %s: %w", c.name, err)
	}

	if _, err := mcpClient.Initialize(ctx, initRequest()); err != nil {
		c.history.recordError(err)
		mcpClient.Close()
		return fmt.Errorf("MCP handshake with %s failed: %w", c.name, err)
	}

	c.client = mcpClient
	c.connected = true
	logging.Info("HTTPConnection", "Connected to %s at %s", c.name, c.url)
	return nil
}

// Stop implements Connection.
func (c *HTTPConnection) Stop() error { return c.stop() }

// HealthCheck implements Connection.
func (c *HTTPConnection) HealthCheck(ctx context.Context) error { return c.ping(ctx) }

// GetTools implements Connection.
func (c *HTTPConnection) GetTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.getTools(ctx)
}

// InvokeTool implements Connection.
func (c *HTTPConnection) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.invokeTool(ctx, name, args)
}

// SSEConnection talks to a remote tool server over Server-Sent Events.
type SSEConnection struct {
	baseClient
	url     string
	headers map[string]string
}

// NewSSEConnection creates an SSE connection with optional headers.
func NewSSEConnection(name, url string, headers map[string]string) *SSEConnection {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &SSEConnection{
		baseClient: newBaseClient(name),
		url:        url,
		headers:    headers,
	}
}

// Start implements Connection.
func (c *SSEConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	var opts []transport.ClientOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHeaders(c.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(c.url, opts...)
	if err != nil {
		c.history.recordError(err)
		return fmt.Errorf("failed to create SSE client for %s: %w", c.name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		c.history.recordError(err)
		return fmt.Errorf("failed to start SSE transport for %s: %w", c.name, err)
	}

	if _, err := mcpClient.Initialize(ctx, initRequest()); err != nil {
		c.history.recordError(err)
		mcpClient.Close()
		return fmt.Errorf("MCP handshake with %s failed: %w", c.name, err)
	}

	c.client = mcpClient
	c.connected = true
	logging.Info("SSEConnection", "Connected to %s at %s", c.name, c.url)
	return nil
}

// Stop implements Connection.
func (c *SSEConnection) Stop() error { return c.stop() }

// HealthCheck implements Connection.
func (c *SSEConnection) HealthCheck(ctx context.Context) error { return c.ping(ctx) }

// GetTools implements Connection.
func (c *SSEConnection) GetTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.getTools(ctx)
}

// InvokeTool implements Connection.
func (c *SSEConnection) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.invokeTool(ctx, name, args)
}

// Compile-time interface compliance checks.
var (
	_ Connection = (*StdioConnection)(nil)
	_ Connection = (*HTTPConnection)(nil)
	_ Connection = (*SSEConnection)(nil)
)
