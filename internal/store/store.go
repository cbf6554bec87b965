// Package store provides the embedded relational store backing all
// persistent ambassador state. A single SQLite database holds users,
// clients, sessions, connections, profiles, groups, the tool-server
// catalog, credentials, OAuth states, admin keys and audit events.
// Ownership is encoded with cascading foreign keys: deleting a user takes
// its clients, sessions and credentials with it.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mcpambassador/server/pkg/logging"
)

// Store wraps the SQLite handle. All accessors take a context and are safe
// for concurrent use; SQLite serializes writers internally.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and initializes
// the schema. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// A single connection avoids SQLITE_BUSY surprises for an embedded,
	// single-process store.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Debug("Store", "Opened database at %s", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components that need transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn("Store", "Rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}
