package store

// schema is executed on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id              TEXT PRIMARY KEY,
    username        TEXT NOT NULL UNIQUE,
    password_hash   TEXT,
    is_admin        INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'active'
                    CHECK (status IN ('active','suspended','deactivated')),
    vault_salt      BLOB,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tool_profiles (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL UNIQUE,
    allow_patterns    TEXT NOT NULL DEFAULT '[]',
    deny_patterns     TEXT NOT NULL DEFAULT '[]',
    rate_per_minute   INTEGER NOT NULL DEFAULT 0,
    rate_per_hour     INTEGER NOT NULL DEFAULT 0,
    max_concurrent    INTEGER NOT NULL DEFAULT 0,
    parent_profile_id TEXT REFERENCES tool_profiles(id) ON DELETE SET NULL,
    environment_scope TEXT,
    time_scope        TEXT,
    created_at        TIMESTAMP NOT NULL,
    updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS clients (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    key_prefix  TEXT NOT NULL UNIQUE,
    secret_hash TEXT NOT NULL,
    profile_id  TEXT REFERENCES tool_profiles(id) ON DELETE SET NULL,
    status      TEXT NOT NULL DEFAULT 'active'
                CHECK (status IN ('active','suspended','revoked')),
    expires_at  TIMESTAMP,
    metadata    TEXT,
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_key_prefix ON clients(key_prefix);
CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id);

CREATE TABLE IF NOT EXISTS sessions (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    client_id              TEXT REFERENCES clients(id) ON DELETE SET NULL,
    token_hash             TEXT NOT NULL UNIQUE,
    token_nonce            TEXT NOT NULL,
    status                 TEXT NOT NULL DEFAULT 'active'
                           CHECK (status IN ('active','idle','spinning_down','suspended','expired')),
    profile_id             TEXT REFERENCES tool_profiles(id) ON DELETE SET NULL,
    idle_timeout_seconds   INTEGER NOT NULL,
    spindown_delay_seconds INTEGER NOT NULL,
    created_at             TIMESTAMP NOT NULL,
    last_activity_at       TIMESTAMP NOT NULL,
    expires_at             TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS connections (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    friendly_name     TEXT NOT NULL,
    host_tool         TEXT,
    last_heartbeat_at TIMESTAMP NOT NULL,
    status            TEXT NOT NULL DEFAULT 'connected'
                      CHECK (status IN ('connected','disconnected')),
    created_at        TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connections_session ON connections(session_id);

CREATE TABLE IF NOT EXISTS groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_groups (
    user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, group_id)
);

CREATE TABLE IF NOT EXISTS mcp_catalog (
    id                        TEXT PRIMARY KEY,
    name                      TEXT NOT NULL UNIQUE,
    transport                 TEXT NOT NULL CHECK (transport IN ('stdio','http','sse')),
    config                    TEXT NOT NULL DEFAULT '{}',
    isolation                 TEXT NOT NULL CHECK (isolation IN ('shared','per_user')),
    requires_user_credentials INTEGER NOT NULL DEFAULT 0,
    credential_schema         TEXT,
    auth_type                 TEXT NOT NULL DEFAULT 'none'
                              CHECK (auth_type IN ('none','static','oauth2')),
    oauth_config              TEXT,
    status                    TEXT NOT NULL DEFAULT 'draft'
                              CHECK (status IN ('draft','published','archived')),
    validation_status         TEXT,
    created_at                TIMESTAMP NOT NULL,
    updated_at                TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS mcp_group_access (
    catalog_id TEXT NOT NULL REFERENCES mcp_catalog(id) ON DELETE CASCADE,
    group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    PRIMARY KEY (catalog_id, group_id)
);

CREATE TABLE IF NOT EXISTS client_mcp_subscriptions (
    client_id  TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
    catalog_id TEXT NOT NULL REFERENCES mcp_catalog(id) ON DELETE CASCADE,
    tool_names TEXT NOT NULL DEFAULT '[]',
    status     TEXT NOT NULL DEFAULT 'active',
    PRIMARY KEY (client_id, catalog_id)
);

CREATE TABLE IF NOT EXISTS user_mcp_credentials (
    user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    catalog_id      TEXT NOT NULL REFERENCES mcp_catalog(id) ON DELETE CASCADE,
    ciphertext      BLOB NOT NULL,
    iv              BLOB NOT NULL,
    credential_type TEXT NOT NULL DEFAULT 'static'
                    CHECK (credential_type IN ('static','oauth2')),
    expires_at      TIMESTAMP,
    oauth_status    TEXT,
    updated_at      TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, catalog_id)
);

CREATE TABLE IF NOT EXISTS oauth_states (
    state         TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    catalog_id    TEXT NOT NULL REFERENCES mcp_catalog(id) ON DELETE CASCADE,
    code_verifier TEXT NOT NULL,
    redirect_uri  TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    expires_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS admin_keys (
    id                  INTEGER PRIMARY KEY CHECK (id = 1),
    key_hash            TEXT NOT NULL,
    recovery_token_hash TEXT NOT NULL,
    rotated_at          TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
    event_id         TEXT PRIMARY KEY,
    timestamp        TIMESTAMP NOT NULL,
    event_type       TEXT NOT NULL,
    severity         TEXT NOT NULL,
    session_id       TEXT,
    user_id          TEXT,
    client_id        TEXT,
    source_ip        TEXT,
    action           TEXT,
    tool_name        TEXT,
    authz_decision   TEXT,
    request_summary  TEXT,
    response_summary TEXT,
    metadata         TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id);
`
