package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// CreateClient inserts a new client credential record.
func (s *Store) CreateClient(ctx context.Context, c *Client) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, user_id, key_prefix, secret_hash, profile_id, status, expires_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.KeyPrefix, c.SecretHash, nullStr(c.ProfileID), c.Status, c.ExpiresAt, nullStr(c.Metadata), c.CreatedAt, c.UpdatedAt)
	return err
}

// GetClient returns the client with the given id.
func (s *Store) GetClient(ctx context.Context, id string) (*Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, clientSelect+` WHERE id = ?`, id))
}

// GetClientByKeyPrefix looks a client up by the non-secret key prefix.
// This is the indexed half of preshared-key verification.
func (s *Store) GetClientByKeyPrefix(ctx context.Context, prefix string) (*Client, error) {
	return s.scanClient(s.db.QueryRowContext(ctx, clientSelect+` WHERE key_prefix = ?`, prefix))
}

const clientSelect = `
	SELECT id, user_id, key_prefix, secret_hash, profile_id, status, expires_at, metadata, created_at, updated_at
	FROM clients`

func (s *Store) scanClient(row *sql.Row) (*Client, error) {
	var c Client
	var profileID, metadata sql.NullString
	var expiresAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.KeyPrefix, &c.SecretHash, &profileID, &c.Status, &expiresAt, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "client not found")
	}
	if err != nil {
		return nil, err
	}
	c.ProfileID = profileID.String
	c.Metadata = metadata.String
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return &c, nil
}

// UpdateClientStatus changes a client's status.
func (s *Store) UpdateClientStatus(ctx context.Context, clientID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), clientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.New(apierror.KindNotFound, "client not found")
	}
	return nil
}
