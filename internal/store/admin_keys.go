package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// GetAdminKey returns the single active admin key row.
func (s *Store) GetAdminKey(ctx context.Context) (*AdminKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_hash, recovery_token_hash, rotated_at FROM admin_keys WHERE id = 1`)
	var k AdminKey
	err := row.Scan(&k.KeyHash, &k.RecoveryTokenHash, &k.RotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "admin key not initialized")
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// SetAdminKey writes the active admin key row, replacing any prior one.
func (s *Store) SetAdminKey(ctx context.Context, keyHash, recoveryTokenHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_keys (id, key_hash, recovery_token_hash, rotated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = excluded.key_hash,
			recovery_token_hash = excluded.recovery_token_hash,
			rotated_at = excluded.rotated_at`,
		keyHash, recoveryTokenHash, time.Now().UTC())
	return err
}
