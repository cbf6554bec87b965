// Package audit provides the append-only security event trail. Providers
// implement the Sink interface; the Service wraps a sink with the configured
// failure policy (fail-closed "block" or fail-open "buffer").
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the pipeline and lifecycle manager.
const (
	TypeAuthnSuccess      = "authn_success"
	TypeAuthnFail         = "authn_fail"
	TypeAuthzPermit       = "authz_permit"
	TypeAuthzDeny         = "authz_deny"
	TypeToolInvocation    = "tool_invocation"
	TypeToolError         = "tool_error"
	TypeSessionTransition = "session_transition"
	TypeSessionRegister   = "session_register"
	TypeOAuthConnect      = "oauth_connect"
	TypeOAuthDisconnect   = "oauth_disconnect"
	TypeAdminKeyRotation  = "admin_key_rotation"
)

// Severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is one append-only audit record. Plaintext credentials, session
// tokens and redacted argument values must never appear in any field.
type Event struct {
	EventID         string                 `json:"event_id"`
	Timestamp       time.Time              `json:"timestamp"`
	EventType       string                 `json:"event_type"`
	Severity        string                 `json:"severity"`
	SessionID       string                 `json:"session_id,omitempty"`
	UserID          string                 `json:"user_id,omitempty"`
	ClientID        string                 `json:"client_id,omitempty"`
	SourceIP        string                 `json:"source_ip,omitempty"`
	Action          string                 `json:"action,omitempty"`
	ToolName        string                 `json:"tool_name,omitempty"`
	AuthzDecision   string                 `json:"authz_decision,omitempty"`
	RequestSummary  string                 `json:"request_summary,omitempty"`
	ResponseSummary string                 `json:"response_summary,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent creates an event with id, timestamp and severity filled in.
func NewEvent(eventType string) *Event {
	severity := SeverityInfo
	switch eventType {
	case TypeAuthnFail, TypeAuthzDeny:
		severity = SeverityWarning
	case TypeToolError:
		severity = SeverityError
	}
	return &Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  severity,
	}
}

// Sink is the provider contract for durable audit emission.
type Sink interface {
	// ID identifies the provider in the registry.
	ID() string
	// Emit appends one event.
	Emit(ctx context.Context, event *Event) error
	// EmitBatch appends several events.
	EmitBatch(ctx context.Context, events []*Event) error
	// Flush drains any internal buffering. Must be called before exit.
	Flush() error
	// Close flushes and releases resources.
	Close() error
}

// Queryable is implemented by sinks that support reading events back.
type Queryable interface {
	Query(ctx context.Context, filter QueryFilter) ([]*Event, error)
}

// QueryFilter narrows a Query call. Zero fields are ignored.
type QueryFilter struct {
	SessionID string
	UserID    string
	EventType string
	Since     time.Time
	Until     time.Time
	Limit     int
}
