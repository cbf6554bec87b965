package audit

import (
	"context"
	"encoding/json"

	"github.com/mcpambassador/server/internal/store"
)

// StoreSink persists audit events in the embedded store, which makes them
// queryable. It is typically paired with the file sink: the file is the
// durability path, the store the query path.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink creates a store-backed sink.
func NewStoreSink(s *store.Store) *StoreSink {
	return &StoreSink{store: s}
}

// ID implements Sink.
func (s *StoreSink) ID() string { return "store" }

// Emit appends one event row.
func (s *StoreSink) Emit(ctx context.Context, event *Event) error {
	return s.store.InsertAuditEvent(ctx, toRow(event))
}

// EmitBatch appends several rows in one transaction.
func (s *StoreSink) EmitBatch(ctx context.Context, events []*Event) error {
	rows := make([]*store.AuditRow, len(events))
	for i, e := range events {
		rows[i] = toRow(e)
	}
	return s.store.InsertAuditEvents(ctx, rows)
}

// Flush is a no-op; every emit is durable on return.
func (s *StoreSink) Flush() error { return nil }

// Close is a no-op; the store's lifecycle is owned by the application.
func (s *StoreSink) Close() error { return nil }

// Query returns matching events, newest first.
func (s *StoreSink) Query(ctx context.Context, filter QueryFilter) ([]*Event, error) {
	rows, err := s.store.QueryAuditEvents(ctx, store.AuditFilter{
		SessionID: filter.SessionID,
		UserID:    filter.UserID,
		EventType: filter.EventType,
		Since:     filter.Since,
		Until:     filter.Until,
		Limit:     filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Event, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func toRow(e *Event) *store.AuditRow {
	var meta string
	if len(e.Metadata) > 0 {
		if b, err := json.Marshal(e.Metadata); err == nil {
			meta = string(b)
		}
	}
	return &store.AuditRow{
		EventID:         e.EventID,
		Timestamp:       e.Timestamp,
		EventType:       e.EventType,
		Severity:        e.Severity,
		SessionID:       e.SessionID,
		UserID:          e.UserID,
		ClientID:        e.ClientID,
		SourceIP:        e.SourceIP,
		Action:          e.Action,
		ToolName:        e.ToolName,
		AuthzDecision:   e.AuthzDecision,
		RequestSummary:  e.RequestSummary,
		ResponseSummary: e.ResponseSummary,
		Metadata:        meta,
	}
}

func fromRow(r *store.AuditRow) *Event {
	e := &Event{
		EventID:         r.EventID,
		Timestamp:       r.Timestamp,
		EventType:       r.EventType,
		Severity:        r.Severity,
		SessionID:       r.SessionID,
		UserID:          r.UserID,
		ClientID:        r.ClientID,
		SourceIP:        r.SourceIP,
		Action:          r.Action,
		ToolName:        r.ToolName,
		AuthzDecision:   r.AuthzDecision,
		RequestSummary:  r.RequestSummary,
		ResponseSummary: r.ResponseSummary,
	}
	if r.Metadata != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err == nil {
			e.Metadata = meta
		}
	}
	return e
}
