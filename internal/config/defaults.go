package config

import "time"

// Default values applied to any zero config field.
const (
	DefaultHost       = "0.0.0.0"
	DefaultPort       = 8443
	DefaultDataDir    = "data"
	DefaultServerName = "mcp-ambassador"
	DefaultLogLevel   = "info"

	DefaultEvaluationInterval = 30 * time.Second
	DefaultSweepInterval      = time.Hour
	DefaultSessionMaxLifetime = 24 * time.Hour
	DefaultIdleTimeout        = 10 * time.Minute
	DefaultSpindownDelay      = 5 * time.Minute

	DefaultMaxPerUser          = 8
	DefaultMaxTotal            = 64
	DefaultHealthCheckInterval = 60 * time.Second
	DefaultSpawnWaitTimeout    = 30 * time.Second
	DefaultInvokeTimeout       = 60 * time.Second

	DefaultAuditOnFailure = AuditBlock
	DefaultAuditBuffer    = 1000
	DefaultAuditFileMB    = 100
	DefaultAuditAgeDays   = 90

	DefaultStateTTL          = 10 * time.Minute
	DefaultCleanupInterval   = 5 * time.Minute
	DefaultCallbackRateLimit = 1.0
)

// ApplyDefaults fills every zero field with its default value.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Sessions.EvaluationInterval == 0 {
		c.Sessions.EvaluationInterval = DefaultEvaluationInterval
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Sessions.MaxLifetime == 0 {
		c.Sessions.MaxLifetime = DefaultSessionMaxLifetime
	}
	if c.Sessions.DefaultIdleTimeout == 0 {
		c.Sessions.DefaultIdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.DefaultSpindownDelay == 0 {
		c.Sessions.DefaultSpindownDelay = DefaultSpindownDelay
	}

	if c.Pool.MaxPerUser == 0 {
		c.Pool.MaxPerUser = DefaultMaxPerUser
	}
	if c.Pool.MaxTotal == 0 {
		c.Pool.MaxTotal = DefaultMaxTotal
	}
	if c.Pool.HealthCheckInterval == 0 {
		c.Pool.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Pool.SpawnWaitTimeout == 0 {
		c.Pool.SpawnWaitTimeout = DefaultSpawnWaitTimeout
	}
	if c.Pool.DefaultInvokeTimeout == 0 {
		c.Pool.DefaultInvokeTimeout = DefaultInvokeTimeout
	}

	if c.Audit.OnFailure == "" {
		c.Audit.OnFailure = DefaultAuditOnFailure
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = DefaultAuditBuffer
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = DefaultAuditFileMB
	}
	if c.Audit.MaxAgeDays == 0 {
		c.Audit.MaxAgeDays = DefaultAuditAgeDays
	}

	if c.OAuth.StateTTL == 0 {
		c.OAuth.StateTTL = DefaultStateTTL
	}
	if c.OAuth.CleanupInterval == 0 {
		c.OAuth.CleanupInterval = DefaultCleanupInterval
	}
	if c.OAuth.CallbackRateLimit == 0 {
		c.OAuth.CallbackRateLimit = DefaultCallbackRateLimit
	}
}
