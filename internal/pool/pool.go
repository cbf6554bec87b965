// Package pool maintains the downstream tool-server processes: one instance
// set per user for per_user catalog entries, and a process-wide shared
// manager for shared entries. Spawn enforces per-user and global resource
// caps atomically with process start, so concurrent spawns can never exceed
// the configured limits.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/mcpclient"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/internal/vault"
	"github.com/mcpambassador/server/pkg/logging"
)

// UserPool is the multi-tenant orchestrator over per-user instance sets.
type UserPool struct {
	store   *store.Store
	vault   *vault.Vault
	factory mcpclient.Factory
	cfg     config.PoolConfig

	// mu guards sets and spawning.
	mu   sync.Mutex
	sets map[string]*InstanceSet
	// spawning holds a channel per user with a spawn in progress; waiters
	// block on the channel being closed.
	spawning map[string]chan struct{}

	// spawnMu serializes the check-limits + start-processes critical
	// section across all users. Without it, concurrent spawns could each
	// pass the limit check and collectively blow past max_total.
	spawnMu sync.Mutex

	stopHealth chan struct{}
	healthOnce sync.Once
}

// NewUserPool creates the per-user pool.
func NewUserPool(st *store.Store, v *vault.Vault, factory mcpclient.Factory, cfg config.PoolConfig) *UserPool {
	return &UserPool{
		store:      st,
		vault:      v,
		factory:    factory,
		cfg:        cfg,
		sets:       make(map[string]*InstanceSet),
		spawning:   make(map[string]chan struct{}),
		stopHealth: make(chan struct{}),
	}
}

// Spawn ensures the user's instance set exists and is ready. Idempotent:
// a ready set returns immediately, and a concurrent spawn for the same user
// is waited on rather than duplicated.
func (p *UserPool) Spawn(ctx context.Context, userID string) error {
	deadline := time.Now().Add(p.cfg.SpawnWaitTimeout)

	for {
		p.mu.Lock()
		if set, ok := p.sets[userID]; ok && set.isReady() {
			p.mu.Unlock()
			return nil
		}
		if waitCh, inProgress := p.spawning[userID]; inProgress {
			p.mu.Unlock()
			select {
			case <-waitCh:
				// The other spawn finished (or failed); re-check state.
				continue
			case <-ctx.Done():
				return apierror.Wrap(apierror.KindTimeout, ctx.Err(), "spawn cancelled for user %s", userID)
			case <-time.After(time.Until(deadline)):
				return apierror.New(apierror.KindTimeout, "timed out waiting for in-progress spawn for user %s", userID)
			}
		}
		ch := make(chan struct{})
		p.spawning[userID] = ch
		p.mu.Unlock()

		err := p.doSpawn(ctx, userID)

		p.mu.Lock()
		delete(p.spawning, userID)
		close(ch)
		p.mu.Unlock()
		return err
	}
}

// doSpawn runs with the per-user marker held.
func (p *UserPool) doSpawn(ctx context.Context, userID string) error {
	entries, err := p.store.PerUserCatalogForUser(ctx, userID)
	if err != nil {
		return err
	}

	// The whole check-limits + start critical section is serialized
	// across users.
	p.spawnMu.Lock()
	defer p.spawnMu.Unlock()

	requested := len(entries)
	if requested > p.cfg.MaxPerUser {
		return resourceLimitError(p.currentTotal(), requested, p.cfg.MaxPerUser)
	}
	if current := p.currentTotal(); current+requested > p.cfg.MaxTotal {
		return resourceLimitError(current, requested, p.cfg.MaxTotal)
	}

	set := newInstanceSet(userID)
	var started []mcpclient.Connection

	fail := func(cause error) error {
		// All-or-nothing: stop everything that did start and leave no
		// partial instance set behind.
		for _, conn := range started {
			if stopErr := conn.Stop(); stopErr != nil {
				logging.Warn("Pool", "Error stopping %s during failed spawn for user %s: %v",
					conn.Name(), userID, stopErr)
			}
		}
		return cause
	}

	for _, entry := range entries {
		headers, env, err := resolveCredentials(ctx, p.store, p.vault, userID, entry)
		if err != nil {
			return fail(err)
		}

		conn, err := p.factory.New(entry, headers, env)
		if err != nil {
			return fail(err)
		}
		if err := conn.Start(ctx); err != nil {
			return fail(apierror.Wrap(apierror.KindServiceUnavailable, err,
				"failed to start server %s for user %s", entry.Name, userID))
		}
		started = append(started, conn)

		tools, err := conn.GetTools(ctx)
		if err != nil {
			return fail(apierror.Wrap(apierror.KindServiceUnavailable, err,
				"failed to list tools on %s for user %s", entry.Name, userID))
		}

		cfg, err := mcpclient.ParseServerConfig(entry.Config)
		if err != nil {
			return fail(err)
		}
		set.addConnection(entry.Name, conn, cfg.InvokeTimeout(p.cfg.DefaultInvokeTimeout), tools)
	}

	set.markReady()

	p.mu.Lock()
	p.sets[userID] = set
	p.mu.Unlock()

	for _, rej := range set.rejections() {
		logging.Warn("Pool", "Dropped tool %s from %s for user %s: %s", rej.Tool, rej.Server, userID, rej.Reason)
	}
	logging.Info("Pool", "Spawned %d server(s) with %d tool(s) for user %s", requested, len(set.catalog()), userID)
	return nil
}

// Terminate tears down all connections for the user. Idempotent and safe
// under concurrent callers.
func (p *UserPool) Terminate(ctx context.Context, userID string) error {
	p.mu.Lock()
	set, ok := p.sets[userID]
	delete(p.sets, userID)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	var firstErr error
	for name, conn := range set.connections() {
		if err := conn.Stop(); err != nil {
			logging.Warn("Pool", "Error stopping %s for user %s: %v", name, userID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	logging.Info("Pool", "Terminated instance set for user %s", userID)
	return firstErr
}

// Invoke routes a tool call to the owning connection in the user's set.
func (p *UserPool) Invoke(ctx context.Context, userID, toolName string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	set := p.getSet(userID)
	if set == nil || !set.isReady() {
		return nil, apierror.New(apierror.KindServiceUnavailable, "no active instance set for user %s", userID)
	}

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

// Catalog returns the user's aggregated tool catalog.
func (p *UserPool) Catalog(userID string) []mcp.Tool {
	if set := p.getSet(userID); set != nil && set.isReady() {
		return set.catalog()
	}
	return nil
}

// Descriptor returns one aggregated tool by name.
func (p *UserPool) Descriptor(userID, toolName string) (mcp.Tool, bool) {
	if set := p.getSet(userID); set != nil && set.isReady() {
		return set.descriptor(toolName)
	}
	return mcp.Tool{}, false
}

// OwnerOf returns the catalog name of the server providing a tool in the
// user's set.
func (p *UserPool) OwnerOf(userID, toolName string) (string, bool) {
	if set := p.getSet(userID); set != nil && set.isReady() {
		return set.ownerName(toolName)
	}
	return "", false
}

// HasActive reports whether the user currently has a ready instance set.
func (p *UserPool) HasActive(userID string) bool {
	set := p.getSet(userID)
	return set != nil && set.isReady()
}

// UserStatus summarizes one user's instance set.
type UserStatus struct {
	UserID      string
	Servers     int
	Tools       int
	Rejections  int
	Connected   int
	ServerNames []string
}

// Status summarizes every live instance set.
func (p *UserPool) Status() []UserStatus {
	p.mu.Lock()
	sets := make([]*InstanceSet, 0, len(p.sets))
	for _, set := range p.sets {
		sets = append(sets, set)
	}
	p.mu.Unlock()

	out := make([]UserStatus, 0, len(sets))
	for _, set := range sets {
		conns := set.connections()
		st := UserStatus{
			UserID:     set.UserID,
			Servers:    len(conns),
			Tools:      len(set.catalog()),
			Rejections: len(set.rejections()),
		}
		for name, conn := range conns {
			st.ServerNames = append(st.ServerNames, name)
			if conn.IsConnected() {
				st.Connected++
			}
		}
		sort.Strings(st.ServerNames)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// StartHealthLoop runs the periodic connection probe until StopHealthLoop
// or ctx cancellation.
func (p *UserPool) StartHealthLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopHealth:
				return
			case <-ticker.C:
				p.checkHealth()
			}
		}
	}()
}

// StopHealthLoop stops the health loop.
func (p *UserPool) StopHealthLoop() {
	p.healthOnce.Do(func() { close(p.stopHealth) })
}

func (p *UserPool) checkHealth() {
	p.mu.Lock()
	sets := make([]*InstanceSet, 0, len(p.sets))
	for _, set := range p.sets {
		sets = append(sets, set)
	}
	p.mu.Unlock()

	for _, set := range sets {
		if !set.isReady() {
			continue
		}
		for name, conn := range set.connections() {
			if !conn.IsConnected() {
				logging.Warn("Pool", "Server %s for user %s is disconnected (errors: %d)",
					name, set.UserID, conn.History().ErrorCount)
			}
		}
	}
}

// TerminateAll tears down every instance set, for shutdown.
func (p *UserPool) TerminateAll(ctx context.Context) {
	p.mu.Lock()
	users := make([]string, 0, len(p.sets))
	for userID := range p.sets {
		users = append(users, userID)
	}
	p.mu.Unlock()

	for _, userID := range users {
		if err := p.Terminate(ctx, userID); err != nil {
			logging.Warn("Pool", "Error terminating instance set for user %s: %v", userID, err)
		}
	}
}

func (p *UserPool) getSet(userID string) *InstanceSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets[userID]
}

// currentTotal sums live instances across all users. Callers hold spawnMu,
// so no other spawn can be adding instances concurrently; terminations can
// only shrink the total.
func (p *UserPool) currentTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, set := range p.sets {
		total += set.size()
	}
	return total
}

func resourceLimitError(current, requested, maxAllowed int) error {
	return apierror.New(apierror.KindResourceLimitExceeded, "tool-server resource limit exceeded").
		WithMetadata(map[string]interface{}{
			"current":              current,
			"requested_additional": requested,
			"max_allowed":          maxAllowed,
		})
}
