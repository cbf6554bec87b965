package mcpclient

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/pkg/logging"
)

// DefaultStdioInitTimeout covers subprocess start plus the MCP handshake.
const DefaultStdioInitTimeout = 10 * time.Second

// envWhitelist is the only part of the parent environment a stdio child
// inherits. Everything else in the parent's env, including secrets, must
// not leak into downstream tool servers.
var envWhitelist = []string{"PATH", "HOME", "NODE_ENV", "LANG", "TZ", "TERM", "USER", "SHELL"}

// StdioConnection runs a downstream tool server as a local subprocess
// speaking MCP over stdin/stdout.
type StdioConnection struct {
	baseClient
	command string
	args    []string
	env     map[string]string
}

// NewStdioConnection creates a stdio connection. env is the per-catalog
// explicit environment layered over the whitelist.
func NewStdioConnection(name, command string, args []string, env map[string]string) *StdioConnection {
	return &StdioConnection{
		baseClient: newBaseClient(name),
		command:    command,
		args:       args,
		env:        env,
	}
}

// Start implements Connection.
func (c *StdioConnection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	envStrings := buildChildEnv(c.env)

	logging.Debug("StdioConnection", "Starting %s: %s %v", c.name, c.command, c.args)

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		c.history.recordError(err)
		return fmt.Errorf("failed to start subprocess for %s: %w", c.name, err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultStdioInitTimeout)
		defer cancel()
	}

	if _, err := mcpClient.Initialize(initCtx, initRequest()); err != nil {
		c.history.recordError(err)
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioConnection", "Error closing failed client for %s: %v", c.name, closeErr)
		}
		return fmt.Errorf("MCP handshake with %s failed: %w", c.name, err)
	}

	c.client = mcpClient
	c.connected = true

	// Capture the child's stderr into the history ring.
	if stderr, ok := client.GetStderr(mcpClient); ok && stderr != nil {
		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				c.history.recordLine(scanner.Text())
			}
			c.markDisconnected()
		}()
	}

	logging.Info("StdioConnection", "Started %s", c.name)
	return nil
}

// Stop implements Connection.
func (c *StdioConnection) Stop() error {
	return c.stop()
}

// HealthCheck implements Connection.
func (c *StdioConnection) HealthCheck(ctx context.Context) error {
	return c.ping(ctx)
}

// GetTools implements Connection.
func (c *StdioConnection) GetTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.getTools(ctx)
}

// InvokeTool implements Connection.
func (c *StdioConnection) InvokeTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.invokeTool(ctx, name, args)
}

// buildChildEnv combines the whitelisted parent environment with the
// per-catalog explicit env. Explicit entries win on collision.
func buildChildEnv(explicit map[string]string) []string {
	var env []string
	for _, key := range envWhitelist {
		if _, override := explicit[key]; override {
			continue
		}
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	for k, v := range explicit {
		env = append(env, k+"="+v)
	}
	return env
}
