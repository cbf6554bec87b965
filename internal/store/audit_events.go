package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertAuditEvent appends one audit row. The table is append-only; nothing
// in the codebase updates or deletes audit rows.
func (s *Store) InsertAuditEvent(ctx context.Context, e *AuditRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, timestamp, event_type, severity, session_id, user_id,
			client_id, source_ip, action, tool_name, authz_decision, request_summary, response_summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Timestamp, e.EventType, e.Severity, nullStr(e.SessionID), nullStr(e.UserID),
		nullStr(e.ClientID), nullStr(e.SourceIP), nullStr(e.Action), nullStr(e.ToolName),
		nullStr(e.AuthzDecision), nullStr(e.RequestSummary), nullStr(e.ResponseSummary), nullStr(e.Metadata))
	return err
}

// InsertAuditEvents appends a batch in one transaction.
func (s *Store) InsertAuditEvents(ctx context.Context, events []*AuditRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO audit_events (event_id, timestamp, event_type, severity, session_id, user_id,
				client_id, source_ip, action, tool_name, authz_decision, request_summary, response_summary, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.EventID, e.Timestamp, e.EventType, e.Severity,
				nullStr(e.SessionID), nullStr(e.UserID), nullStr(e.ClientID), nullStr(e.SourceIP),
				nullStr(e.Action), nullStr(e.ToolName), nullStr(e.AuthzDecision),
				nullStr(e.RequestSummary), nullStr(e.ResponseSummary), nullStr(e.Metadata)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AuditFilter narrows an audit query. Zero fields are ignored.
type AuditFilter struct {
	SessionID string
	UserID    string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// QueryAuditEvents returns events matching the filter, newest first.
func (s *Store) QueryAuditEvents(ctx context.Context, f AuditFilter) ([]*AuditRow, error) {
	var conds []string
	var args []interface{}

	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.Until.UTC())
	}

	query := `SELECT event_id, timestamp, event_type, severity, session_id, user_id, client_id,
		source_ip, action, tool_name, authz_decision, request_summary, response_summary, metadata
		FROM audit_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditRow
	for rows.Next() {
		var e AuditRow
		var sessionID, userID, clientID, sourceIP, action, toolName, decision, reqSum, respSum, meta sql.NullString
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.EventType, &e.Severity, &sessionID, &userID,
			&clientID, &sourceIP, &action, &toolName, &decision, &reqSum, &respSum, &meta); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.UserID = userID.String
		e.ClientID = clientID.String
		e.SourceIP = sourceIP.String
		e.Action = action.String
		e.ToolName = toolName.String
		e.AuthzDecision = decision.String
		e.RequestSummary = reqSum.String
		e.ResponseSummary = respSum.String
		e.Metadata = meta.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
