// Package router composes the shared and per-user tool catalogs into the
// single surface a session sees. Shared tools take precedence over per-user
// tools on name conflict, both in listing and in dispatch.
package router

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/pool"
)

// Router dispatches tool calls to the owning downstream server.
type Router struct {
	shared *pool.SharedManager
	users  *pool.UserPool
}

// New creates a router over the shared manager and per-user pool.
func New(shared *pool.SharedManager, users *pool.UserPool) *Router {
	return &Router{shared: shared, users: users}
}

// Catalog returns the merged tool catalog for a user: all shared tools plus
// the user's per-user tools whose names are not shadowed by a shared tool.
func (r *Router) Catalog(userID string) []mcp.Tool {
	sharedTools := r.shared.Catalog()
	seen := make(map[string]bool, len(sharedTools))
	for _, tool := range sharedTools {
		seen[tool.Name] = true
	}

	merged := sharedTools
	for _, tool := range r.users.Catalog(userID) {
		if seen[tool.Name] {
			continue
		}
		merged = append(merged, tool)
	}
	return merged
}

// Descriptor returns the merged view of one tool.
func (r *Router) Descriptor(userID, toolName string) (mcp.Tool, bool) {
	if tool, ok := r.shared.Descriptor(toolName); ok {
		return tool, true
	}
	return r.users.Descriptor(userID, toolName)
}

// Invoke routes a tool call with shared-first precedence. The user's
// instance set is ensured before per-user dispatch.
func (r *Router) Invoke(ctx context.Context, userID, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if r.shared.Owns(toolName) {
		return r.shared.Invoke(ctx, toolName, args)
	}

	if err := r.users.Spawn(ctx, userID); err != nil {
		return nil, err
	}

	if _, ok := r.users.Descriptor(userID, toolName); !ok {
		return nil, apierror.New(apierror.KindNotFound, "tool %s not found", toolName)
	}
	return r.users.Invoke(ctx, userID, toolName, args)
}

// OwnerOf returns the catalog name of the server providing a tool, with
// shared precedence.
func (r *Router) OwnerOf(userID, toolName string) string {
	if name, ok := r.shared.OwnerOf(toolName); ok {
		return name
	}
	if name, ok := r.users.OwnerOf(userID, toolName); ok {
		return name
	}
	return ""
}

// EnsureUser makes sure the user's per-user servers are up, for catalog
// listing after registration.
func (r *Router) EnsureUser(ctx context.Context, userID string) error {
	return r.users.Spawn(ctx, userID)
}
