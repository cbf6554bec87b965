package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

const sessionSelect = `
	SELECT id, user_id, client_id, token_hash, token_nonce, status, profile_id,
	       idle_timeout_seconds, spindown_delay_seconds,
	       created_at, last_activity_at, expires_at
	FROM sessions`

// GetSessionByTokenHash resolves a presented (hashed) session token.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE token_hash = ?`, tokenHash))
}

// GetSessionForUser returns the user's session row, if any. Each user has at
// most one session (re-registration reuses the row).
func (s *Store) GetSessionForUser(ctx context.Context, userID string) (*Session, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, sessionSelect+` WHERE user_id = ?`, userID))
}

// ListSessions returns every session row, for the lifecycle evaluator.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, sessionSelect)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ReplaceSessionToken creates the user's session row, or atomically replaces
// its token hash and reactivates it if one already exists. The prior token
// is invalidated within the same transaction, so no window exists in which
// both tokens authenticate.
func (s *Store) ReplaceSessionToken(ctx context.Context, sess *Session) (created bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		row := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE user_id = ?`, sess.UserID)
		scanErr := row.Scan(&existingID)
		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			created = true
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sessions (id, user_id, client_id, token_hash, token_nonce, status, profile_id,
					idle_timeout_seconds, spindown_delay_seconds, created_at, last_activity_at, expires_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sess.ID, sess.UserID, nullStr(sess.ClientID), sess.TokenHash, sess.TokenNonce, SessionActive, nullStr(sess.ProfileID),
				sess.IdleTimeoutSeconds, sess.SpindownDelaySeconds, sess.CreatedAt, sess.LastActivityAt, sess.ExpiresAt)
			return err
		case scanErr != nil:
			return scanErr
		default:
			sess.ID = existingID
			_, err := tx.ExecContext(ctx, `
				UPDATE sessions SET client_id = ?, token_hash = ?, token_nonce = ?, status = ?, last_activity_at = ?
				WHERE id = ?`,
				nullStr(sess.ClientID), sess.TokenHash, sess.TokenNonce, SessionActive, sess.LastActivityAt, existingID)
			return err
		}
	})
	return created, err
}

// UpdateSessionStatus transitions a session to a new status.
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.New(apierror.KindNotFound, "session not found")
	}
	return nil
}

// TouchSession records activity on a session.
func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = ? WHERE id = ?`, at.UTC(), sessionID)
	return err
}

// DeleteSession removes a session row (connections cascade).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var clientID, profileID sql.NullString
	err := row.Scan(&sess.ID, &sess.UserID, &clientID, &sess.TokenHash, &sess.TokenNonce, &sess.Status, &profileID,
		&sess.IdleTimeoutSeconds, &sess.SpindownDelaySeconds, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "session not found")
	}
	if err != nil {
		return nil, err
	}
	sess.ClientID = clientID.String
	sess.ProfileID = profileID.String
	return &sess, nil
}

func scanSessionRows(rows *sql.Rows) (*Session, error) {
	var sess Session
	var clientID, profileID sql.NullString
	err := rows.Scan(&sess.ID, &sess.UserID, &clientID, &sess.TokenHash, &sess.TokenNonce, &sess.Status, &profileID,
		&sess.IdleTimeoutSeconds, &sess.SpindownDelaySeconds, &sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sess.ClientID = clientID.String
	sess.ProfileID = profileID.String
	return &sess, nil
}

// CreateConnection attaches a new connection to a session.
func (s *Store) CreateConnection(ctx context.Context, c *Connection) error {
	c.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (id, session_id, friendly_name, host_tool, last_heartbeat_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.FriendlyName, nullStr(c.HostTool), c.LastHeartbeatAt, c.Status, c.CreatedAt)
	return err
}

// ConnectionsForSession returns all connections attached to a session.
func (s *Store) ConnectionsForSession(ctx context.Context, sessionID string) ([]*Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, friendly_name, host_tool, last_heartbeat_at, status, created_at
		FROM connections WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Connection
	for rows.Next() {
		var c Connection
		var hostTool sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.FriendlyName, &hostTool, &c.LastHeartbeatAt, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.HostTool = hostTool.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// HeartbeatConnection refreshes a connection's heartbeat timestamp.
func (s *Store) HeartbeatConnection(ctx context.Context, connectionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET last_heartbeat_at = ?, status = ? WHERE id = ?`,
		at.UTC(), ConnectionConnected, connectionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.New(apierror.KindNotFound, "connection not found")
	}
	return nil
}

// DisconnectConnection marks a connection as disconnected.
func (s *Store) DisconnectConnection(ctx context.Context, connectionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections SET status = ? WHERE id = ?`, ConnectionDisconnected, connectionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.New(apierror.KindNotFound, "connection not found")
	}
	return nil
}
