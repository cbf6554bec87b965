package authn

import (
	"context"
	"time"
)

// Request carries the credential material extracted from an incoming HTTP
// request. Exactly one of PresharedKey or SessionToken is normally set.
type Request struct {
	PresharedKey string
	SessionToken string
	SourceIP     string
}

// SessionContext is the authenticated identity attached to a request.
type SessionContext struct {
	SessionID string
	ClientID  string
	UserID    string
	ProfileID string
	Groups    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Provider is the authentication provider contract. Implementations return
// internal error kinds (invalid_credential, expired, revoked,
// unknown_client); the pipeline maps every failure to a generic
// unauthorized response so callers cannot probe for valid prefixes.
type Provider interface {
	// ID identifies the provider in the registry.
	ID() string
	// Authenticate verifies the presented credential.
	Authenticate(ctx context.Context, req *Request) (*SessionContext, error)
}
