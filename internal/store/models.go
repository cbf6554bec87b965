package store

import "time"

// User status values.
const (
	UserActive      = "active"
	UserSuspended   = "suspended"
	UserDeactivated = "deactivated"
)

// Client status values.
const (
	ClientActive    = "active"
	ClientSuspended = "suspended"
	ClientRevoked   = "revoked"
)

// Session status values.
const (
	SessionActive       = "active"
	SessionIdle         = "idle"
	SessionSpinningDown = "spinning_down"
	SessionSuspended    = "suspended"
	SessionExpired      = "expired"
)

// Connection status values.
const (
	ConnectionConnected    = "connected"
	ConnectionDisconnected = "disconnected"
)

// Catalog publication status values.
const (
	CatalogDraft     = "draft"
	CatalogPublished = "published"
	CatalogArchived  = "archived"
)

// Isolation modes for catalog entries.
const (
	IsolationShared  = "shared"
	IsolationPerUser = "per_user"
)

// Transport kinds for catalog entries.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// AllUsersGroup is the distinguished group every user implicitly belongs to.
const AllUsersGroup = "all-users"

// User is a principal that owns clients, sessions and credentials.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	Status       string
	VaultSalt    []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Client is a preshared-key credential bound to one user.
type Client struct {
	ID         string
	UserID     string
	KeyPrefix  string
	SecretHash string
	ProfileID  string
	Status     string
	ExpiresAt  *time.Time
	Metadata   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ToolProfile is an ordered allow/deny pattern set with rate limits and
// optional parent for inheritance.
type ToolProfile struct {
	ID               string
	Name             string
	AllowPatterns    []string
	DenyPatterns     []string
	RatePerMinute    int
	RatePerHour      int
	MaxConcurrent    int
	ParentProfileID  string
	EnvironmentScope string
	TimeScope        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is the lifecycle unit that gates per-user tool servers.
type Session struct {
	ID                   string
	UserID               string
	ClientID             string
	TokenHash            string
	TokenNonce           string
	Status               string
	ProfileID            string
	IdleTimeoutSeconds   int
	SpindownDelaySeconds int
	CreatedAt            time.Time
	LastActivityAt       time.Time
	ExpiresAt            time.Time
}

// Connection is one host attached to a session, kept alive by heartbeats.
type Connection struct {
	ID              string
	SessionID       string
	FriendlyName    string
	HostTool        string
	LastHeartbeatAt time.Time
	Status          string
	CreatedAt       time.Time
}

// CatalogEntry describes one downstream tool server.
type CatalogEntry struct {
	ID                      string
	Name                    string
	Transport               string
	Config                  string
	Isolation               string
	RequiresUserCredentials bool
	CredentialSchema        string
	AuthType                string
	OAuthConfig             string
	Status                  string
	ValidationStatus        string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// UserCredential is an envelope-encrypted per-(user, catalog) secret blob.
type UserCredential struct {
	UserID         string
	CatalogID      string
	Ciphertext     []byte
	IV             []byte
	CredentialType string
	ExpiresAt      *time.Time
	OAuthStatus    string
	UpdatedAt      time.Time
}

// OAuthState is a single-use pending authorization row.
type OAuthState struct {
	State        string
	UserID       string
	CatalogID    string
	CodeVerifier string
	RedirectURI  string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// AdminKey is the single active admin key row.
type AdminKey struct {
	KeyHash           string
	RecoveryTokenHash string
	RotatedAt         time.Time
}

// AuditRow is the persisted form of an audit event, used by query.
type AuditRow struct {
	EventID         string
	Timestamp       time.Time
	EventType       string
	Severity        string
	SessionID       string
	UserID          string
	ClientID        string
	SourceIP        string
	Action          string
	ToolName        string
	AuthzDecision   string
	RequestSummary  string
	ResponseSummary string
	Metadata        string
}
