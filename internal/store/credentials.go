package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// UpsertUserCredential stores or replaces the encrypted credential blob for
// a (user, catalog entry) pair.
func (s *Store) UpsertUserCredential(ctx context.Context, c *UserCredential) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_mcp_credentials (user_id, catalog_id, ciphertext, iv, credential_type, expires_at, oauth_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, catalog_id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			iv = excluded.iv,
			credential_type = excluded.credential_type,
			expires_at = excluded.expires_at,
			oauth_status = excluded.oauth_status,
			updated_at = excluded.updated_at`,
		c.UserID, c.CatalogID, c.Ciphertext, c.IV, c.CredentialType, c.ExpiresAt, nullStr(c.OAuthStatus), c.UpdatedAt)
	return err
}

// GetUserCredential returns the encrypted credential for a (user, catalog
// entry) pair.
func (s *Store) GetUserCredential(ctx context.Context, userID, catalogID string) (*UserCredential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, catalog_id, ciphertext, iv, credential_type, expires_at, oauth_status, updated_at
		FROM user_mcp_credentials WHERE user_id = ? AND catalog_id = ?`, userID, catalogID)
	return scanCredential(row)
}

// ListAllCredentials returns every stored credential blob. Used by master
// key rotation to re-encrypt the whole vault.
func (s *Store) ListAllCredentials(ctx context.Context) ([]*UserCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, catalog_id, ciphertext, iv, credential_type, expires_at, oauth_status, updated_at
		FROM user_mcp_credentials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UserCredential
	for rows.Next() {
		var c UserCredential
		var expiresAt sql.NullTime
		var oauthStatus sql.NullString
		if err := rows.Scan(&c.UserID, &c.CatalogID, &c.Ciphertext, &c.IV, &c.CredentialType, &expiresAt, &oauthStatus, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			c.ExpiresAt = &t
		}
		c.OAuthStatus = oauthStatus.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteUserCredential removes a stored credential.
func (s *Store) DeleteUserCredential(ctx context.Context, userID, catalogID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_mcp_credentials WHERE user_id = ? AND catalog_id = ?`, userID, catalogID)
	return err
}

// UpdateCredentialOAuthStatus updates only the oauth_status column.
func (s *Store) UpdateCredentialOAuthStatus(ctx context.Context, userID, catalogID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_mcp_credentials SET oauth_status = ?, updated_at = ? WHERE user_id = ? AND catalog_id = ?`,
		status, time.Now().UTC(), userID, catalogID)
	return err
}

func scanCredential(row *sql.Row) (*UserCredential, error) {
	var c UserCredential
	var expiresAt sql.NullTime
	var oauthStatus sql.NullString
	err := row.Scan(&c.UserID, &c.CatalogID, &c.Ciphertext, &c.IV, &c.CredentialType, &expiresAt, &oauthStatus, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "credential not found")
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	c.OAuthStatus = oauthStatus.String
	return &c, nil
}
