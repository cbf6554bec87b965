package config

import "time"

// Config is the top-level configuration for the ambassador server. Values
// come from an optional YAML file merged with CLI flags; zero values are
// filled by ApplyDefaults.
type Config struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	DataDir    string `yaml:"dataDir,omitempty"`
	ServerName string `yaml:"serverName,omitempty"`
	LogLevel   string `yaml:"logLevel,omitempty"`

	Sessions SessionConfig `yaml:"sessions,omitempty"`
	Pool     PoolConfig    `yaml:"pool,omitempty"`
	Audit    AuditConfig   `yaml:"audit,omitempty"`
	OAuth    OAuthConfig   `yaml:"oauth,omitempty"`
}

// SessionConfig tunes the session lifecycle manager.
type SessionConfig struct {
	// EvaluationInterval is how often every session is run through the
	// state machine.
	EvaluationInterval time.Duration `yaml:"evaluationInterval,omitempty"`
	// SweepInterval is how often expired sessions are physically deleted.
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"`
	// MaxLifetime is the hard cap on session age regardless of activity.
	MaxLifetime time.Duration `yaml:"maxLifetime,omitempty"`
	// DefaultIdleTimeout applies to sessions that do not carry their own.
	DefaultIdleTimeout time.Duration `yaml:"defaultIdleTimeout,omitempty"`
	// DefaultSpindownDelay applies to sessions that do not carry their own.
	DefaultSpindownDelay time.Duration `yaml:"defaultSpindownDelay,omitempty"`
}

// PoolConfig tunes the per-user tool-server pool.
type PoolConfig struct {
	// MaxPerUser caps live tool-server instances per user.
	MaxPerUser int `yaml:"maxPerUser,omitempty"`
	// MaxTotal caps live per-user tool-server instances across all users.
	MaxTotal int `yaml:"maxTotal,omitempty"`
	// HealthCheckInterval is how often ready instance sets are probed.
	HealthCheckInterval time.Duration `yaml:"healthCheckInterval,omitempty"`
	// SpawnWaitTimeout bounds waiting on another caller's in-progress spawn.
	SpawnWaitTimeout time.Duration `yaml:"spawnWaitTimeout,omitempty"`
	// DefaultInvokeTimeout applies to catalog entries without a timeout.
	DefaultInvokeTimeout time.Duration `yaml:"defaultInvokeTimeout,omitempty"`
}

// AuditConfig tunes the audit sink.
type AuditConfig struct {
	// OnFailure selects fail-closed ("block") or fail-open ("buffer")
	// behavior when the sink refuses a write.
	OnFailure string `yaml:"onFailure,omitempty"`
	// BufferSize bounds the fail-open queue; oldest events drop first.
	BufferSize int `yaml:"bufferSize,omitempty"`
	// MaxFileSizeMB rotates the audit log file once it grows past this.
	MaxFileSizeMB int `yaml:"maxFileSizeMB,omitempty"`
	// MaxAgeDays removes rotated audit files older than this.
	MaxAgeDays int `yaml:"maxAgeDays,omitempty"`
}

// OAuthConfig tunes the OAuth token manager.
type OAuthConfig struct {
	// StateTTL is how long a pending authorization state stays valid.
	StateTTL time.Duration `yaml:"stateTTL,omitempty"`
	// CleanupInterval is how often expired states are purged.
	CleanupInterval time.Duration `yaml:"cleanupInterval,omitempty"`
	// CallbackRateLimit is the per-IP requests/second cap on the callback.
	CallbackRateLimit float64 `yaml:"callbackRateLimit,omitempty"`
	// PortalURL is where the callback redirects after completion.
	PortalURL string `yaml:"portalURL,omitempty"`
}

// AuditOnFailure values.
const (
	AuditBlock  = "block"
	AuditBuffer = "buffer"
)
