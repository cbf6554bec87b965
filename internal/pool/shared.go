package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/mcpclient"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

// SharedManager runs the process-wide tool servers: catalog entries with
// shared isolation get exactly one connection each, started at boot and
// stopped at shutdown. Its aggregated catalog takes precedence over
// per-user catalogs on name conflicts.
type SharedManager struct {
	store   *store.Store
	factory mcpclient.Factory
	cfg     config.PoolConfig

	mu  sync.RWMutex
	set *InstanceSet

	stopHealth chan struct{}
	healthOnce sync.Once
}

// NewSharedManager creates the shared tool-server manager.
func NewSharedManager(st *store.Store, factory mcpclient.Factory, cfg config.PoolConfig) *SharedManager {
	return &SharedManager{
		store:      st,
		factory:    factory,
		cfg:        cfg,
		set:        newInstanceSet(""),
		stopHealth: make(chan struct{}),
	}
}

// Start launches every published shared catalog entry. A server that fails
// to start is logged and skipped; shared servers are best-effort at boot so
// one broken entry cannot keep the ambassador down.
func (m *SharedManager) Start(ctx context.Context) error {
	entries, err := m.store.ListPublishedByIsolation(ctx, store.IsolationShared)
	if err != nil {
		return err
	}

	set := newInstanceSet("")
	for _, entry := range entries {
		conn, err := m.factory.New(entry, nil, nil)
		if err != nil {
			logging.Error("SharedPool", err, "Skipping shared server %s", entry.Name)
			continue
		}
		if err := conn.Start(ctx); err != nil {
			logging.Error("SharedPool", err, "Failed to start shared server %s", entry.Name)
			continue
		}
		tools, err := conn.GetTools(ctx)
		if err != nil {
			logging.Error("SharedPool", err, "Failed to list tools on shared server %s", entry.Name)
			if stopErr := conn.Stop(); stopErr != nil {
				logging.Warn("SharedPool", "Error stopping %s: %v", entry.Name, stopErr)
			}
			continue
		}

		cfg, err := mcpclient.ParseServerConfig(entry.Config)
		if err != nil {
			logging.Error("SharedPool", err, "Invalid config for shared server %s", entry.Name)
			continue
		}
		set.addConnection(entry.Name, conn, cfg.InvokeTimeout(m.cfg.DefaultInvokeTimeout), tools)
	}
	set.markReady()

	m.mu.Lock()
	m.set = set
	m.mu.Unlock()

	for _, rej := range set.rejections() {
		logging.Warn("SharedPool", "Dropped tool %s from %s: %s", rej.Tool, rej.Server, rej.Reason)
	}
	logging.Info("SharedPool", "Started %d shared server(s) with %d tool(s)",
		set.size(), len(set.catalog()))
	return nil
}

// Stop tears down every shared connection.
func (m *SharedManager) Stop(_ context.Context) {
	m.StopHealthLoop()

	m.mu.Lock()
	set := m.set
	m.set = newInstanceSet("")
	m.mu.Unlock()

	for name, conn := range set.connections() {
		if err := conn.Stop(); err != nil {
			logging.Warn("SharedPool", "Error stopping shared server %s: %v", name, err)
		}
	}
	logging.Info("SharedPool", "Stopped shared servers")
}

// Catalog returns the aggregated shared tool catalog.
func (m *SharedManager) Catalog() []mcp.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.catalog()
}

// Owns reports whether a shared server provides the given tool.
func (m *SharedManager) Owns(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, _, ok := m.set.owner(toolName)
	return ok
}

// OwnerOf returns the catalog name of the shared server providing a tool.
func (m *SharedManager) OwnerOf(toolName string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.ownerName(toolName)
}

// Descriptor returns one shared tool by name.
func (m *SharedManager) Descriptor(toolName string) (mcp.Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.descriptor(toolName)
}

// Invoke routes a tool call to the owning shared connection.
func (m *SharedManager) Invoke(ctx context.Context, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	m.mu.RLock()
	set := m.set
	m.mu.RUnlock()

	conn, timeout, ok := set.owner(toolName)
	if !ok {
		return nil, apierror.New(apierror.KindNotFound, "tool %s not found", toolName)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := conn.InvokeTool(invokeCtx, toolName, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apierror.Wrap(apierror.KindTimeout, err, "tool %s timed out after %s", toolName, timeout)
		}
		return nil, err
	}
	return result, nil
}

// Status summarizes the shared servers.
func (m *SharedManager) Status() UserStatus {
	m.mu.RLock()
	set := m.set
	m.mu.RUnlock()

	conns := set.connections()
	st := UserStatus{UserID: "(shared)", Servers: len(conns), Tools: len(set.catalog()), Rejections: len(set.rejections())}
	for name, conn := range conns {
		st.ServerNames = append(st.ServerNames, name)
		if conn.IsConnected() {
			st.Connected++
		}
	}
	return st
}

// StartHealthLoop runs the periodic connection probe.
func (m *SharedManager) StartHealthLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopHealth:
				return
			case <-ticker.C:
				m.mu.RLock()
				set := m.set
				m.mu.RUnlock()
				for name, conn := range set.connections() {
					if !conn.IsConnected() {
						logging.Warn("SharedPool", "Shared server %s is disconnected (errors: %d)",
							name, conn.History().ErrorCount)
					}
				}
			}
		}
	}()
}

// StopHealthLoop stops the health loop.
func (m *SharedManager) StopHealthLoop() {
	m.healthOnce.Do(func() { close(m.stopHealth) })
}
