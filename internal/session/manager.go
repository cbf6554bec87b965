// Package session drives the session lifecycle state machine. A single
// evaluator goroutine walks every session on a timer and applies the
// transitions active -> idle -> spinning_down -> suspended, any -> expired,
// tearing down the user's tool servers on the way out of active; a sweeper
// physically deletes sessions that have been expired for a day.
package session

import (
	"context"
	"time"

	"github.com/mcpambassador/server/internal/audit"
	"github.com/mcpambassador/server/internal/config"
	"github.com/mcpambassador/server/internal/store"
	"github.com/mcpambassador/server/pkg/logging"
)

// Terminator tears down a user's per-user tool servers. Satisfied by the
// per-user pool.
type Terminator interface {
	Terminate(ctx context.Context, userID string) error
}

// Auditor records lifecycle events. Satisfied by the audit service.
type Auditor interface {
	Emit(ctx context.Context, event *audit.Event) error
}

// deleteAfterExpiry is how long an expired session row survives before the
// sweeper removes it.
const deleteAfterExpiry = 24 * time.Hour

// Manager runs the evaluator and sweeper.
type Manager struct {
	store   *store.Store
	pool    Terminator
	auditor Auditor
	cfg     config.SessionConfig

	// now is injectable for tests.
	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a lifecycle manager.
func NewManager(st *store.Store, pool Terminator, auditor Auditor, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:   st,
		pool:    pool,
		auditor: auditor,
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetClock replaces the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Start launches the evaluator and sweeper loops.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		evalTicker := time.NewTicker(m.cfg.EvaluationInterval)
		sweepTicker := time.NewTicker(m.cfg.SweepInterval)
		defer evalTicker.Stop()
		defer sweepTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-evalTicker.C:
				m.EvaluateAll(ctx)
			case <-sweepTicker.C:
				m.SweepExpired(ctx)
			}
		}
	}()
	logging.Info("Session", "Lifecycle manager started (evaluate every %s, sweep every %s)",
		m.cfg.EvaluationInterval, m.cfg.SweepInterval)
}

// Stop halts the loops and waits for the evaluator to finish.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
	logging.Info("Session", "Lifecycle manager stopped")
}

// EvaluateAll runs every session through the state machine once. The
// evaluator is single-threaded: sessions are processed sequentially, so
// per-session transitions are serialized.
func (m *Manager) EvaluateAll(ctx context.Context) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		logging.Error("Session", err, "Failed to list sessions for evaluation")
		return
	}
	for _, sess := range sessions {
		m.evaluate(ctx, sess)
	}
}

// evaluate applies at most the transitions the current state allows.
func (m *Manager) evaluate(ctx context.Context, sess *store.Session) {
	now := m.now()

	// Hard expiry beats everything.
	if sess.Status != store.SessionExpired && now.After(sess.ExpiresAt) {
		m.transition(ctx, sess, store.SessionExpired, true)
		return
	}

	switch sess.Status {
	case store.SessionActive:
		if m.isIdle(ctx, sess, now) {
			m.transition(ctx, sess, store.SessionIdle, false)
		}
	case store.SessionIdle:
		if m.idleFor(ctx, sess, now) > time.Duration(sess.SpindownDelaySeconds)*time.Second {
			// spinning_down is transient: it exists while teardown runs
			// and becomes suspended as soon as teardown completes.
			m.transition(ctx, sess, store.SessionSpinningDown, true)
			m.transition(ctx, sess, store.SessionSuspended, false)
		}
	}
}

// isIdle reports whether an active session qualifies as idle: zero
// connected connections, or every connected heartbeat older than the idle
// timeout.
func (m *Manager) isIdle(ctx context.Context, sess *store.Session, now time.Time) bool {
	idleTimeout := time.Duration(sess.IdleTimeoutSeconds) * time.Second
	newest, connected := m.newestHeartbeat(ctx, sess)
	if connected == 0 {
		return true
	}
	return now.Sub(newest) > idleTimeout
}

// idleFor measures how long past the idle timeout the session has been
// without a fresh heartbeat.
func (m *Manager) idleFor(ctx context.Context, sess *store.Session, now time.Time) time.Duration {
	idleTimeout := time.Duration(sess.IdleTimeoutSeconds) * time.Second
	newest, connected := m.newestHeartbeat(ctx, sess)
	if connected == 0 {
		newest = sess.LastActivityAt
	}
	return now.Sub(newest) - idleTimeout
}

func (m *Manager) newestHeartbeat(ctx context.Context, sess *store.Session) (newest time.Time, connected int) {
	conns, err := m.store.ConnectionsForSession(ctx, sess.ID)
	if err != nil {
		logging.Error("Session", err, "Failed to load connections for session %s",
			logging.TruncateSessionID(sess.ID))
		return sess.LastActivityAt, 0
	}
	for _, c := range conns {
		if c.Status != store.ConnectionConnected {
			continue
		}
		connected++
		if c.LastHeartbeatAt.After(newest) {
			newest = c.LastHeartbeatAt
		}
	}
	return newest, connected
}

// transition moves a session to newStatus, tearing down the user's tool
// servers first when required, and emits exactly one audit event. A
// teardown failure is logged but never blocks the transition.
func (m *Manager) transition(ctx context.Context, sess *store.Session, newStatus string, terminate bool) {
	if terminate {
		if err := m.pool.Terminate(ctx, sess.UserID); err != nil {
			logging.Error("Session", err, "Pool teardown failed for user %s during transition to %s",
				sess.UserID, newStatus)
		}
	}

	if err := m.store.UpdateSessionStatus(ctx, sess.ID, newStatus); err != nil {
		logging.Error("Session", err, "Failed to update session %s to %s",
			logging.TruncateSessionID(sess.ID), newStatus)
		return
	}

	event := audit.NewEvent(audit.TypeSessionTransition)
	event.SessionID = sess.ID
	event.UserID = sess.UserID
	event.Action = "session_transition"
	event.Metadata = map[string]interface{}{
		"previous_status": sess.Status,
		"new_status":      newStatus,
	}
	if err := m.auditor.Emit(ctx, event); err != nil {
		logging.Error("Session", err, "Failed to audit session transition")
	}

	logging.Debug("Session", "Session %s: %s -> %s",
		logging.TruncateSessionID(sess.ID), sess.Status, newStatus)
	sess.Status = newStatus
}

// SweepExpired deletes sessions that have been expired past the retention
// window.
func (m *Manager) SweepExpired(ctx context.Context) {
	sessions, err := m.store.ListSessions(ctx)
	if err != nil {
		logging.Error("Session", err, "Failed to list sessions for sweep")
		return
	}

	now := m.now()
	deleted := 0
	for _, sess := range sessions {
		if sess.Status != store.SessionExpired {
			continue
		}
		if now.After(sess.ExpiresAt.Add(deleteAfterExpiry)) {
			if err := m.store.DeleteSession(ctx, sess.ID); err != nil {
				logging.Error("Session", err, "Failed to delete expired session %s",
					logging.TruncateSessionID(sess.ID))
				continue
			}
			deleted++
		}
	}
	if deleted > 0 {
		logging.Info("Session", "Swept %d expired session(s)", deleted)
	}
}
