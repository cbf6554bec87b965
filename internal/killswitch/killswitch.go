// Package killswitch provides an in-memory emergency cutoff map consulted
// by the authorization stage. Switches are keyed "type:target", e.g.
// "tool:github.delete_repo", "user:42", "client:abc" or "global:all".
// The map is process-local and intentionally not persisted.
package killswitch

import (
	"fmt"
	"sync"
)

// Switch types.
const (
	TypeGlobal = "global"
	TypeUser   = "user"
	TypeClient = "client"
	TypeTool   = "tool"
)

// GlobalTarget is the target name of the single global switch.
const GlobalTarget = "all"

// Map is a concurrent kill-switch set. The zero value is not usable; use New.
type Map struct {
	mu     sync.RWMutex
	active map[string]bool
}

// New creates an empty kill-switch map.
func New() *Map {
	return &Map{active: make(map[string]bool)}
}

// Key builds the canonical "type:target" key.
func Key(switchType, target string) string {
	return fmt.Sprintf("%s:%s", switchType, target)
}

// Set forces a switch to the given state.
func (m *Map) Set(switchType, target string, active bool) {
	key := Key(switchType, target)
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		m.active[key] = true
	} else {
		delete(m.active, key)
	}
}

// Toggle flips a switch and returns its new state.
func (m *Map) Toggle(switchType, target string) bool {
	key := Key(switchType, target)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[key] {
		delete(m.active, key)
		return false
	}
	m.active[key] = true
	return true
}

// IsActive reports whether the given switch is on. O(1).
func (m *Map) IsActive(switchType, target string) bool {
	key := Key(switchType, target)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[key]
}

// AnyActive reports whether any of the given (type, target) pairs is on,
// returning the first active key found.
func (m *Map) AnyActive(pairs ...[2]string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range pairs {
		key := Key(p[0], p[1])
		if m.active[key] {
			return key, true
		}
	}
	return "", false
}

// Snapshot returns a copy of all active switch keys.
func (m *Map) Snapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active))
	for key := range m.active {
		out = append(out, key)
	}
	return out
}
