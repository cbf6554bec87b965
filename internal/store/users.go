package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, is_admin, status, vault_salt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, nullStr(u.PasswordHash), u.IsAdmin, u.Status, u.VaultSalt, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, status, vault_salt, created_at, updated_at
		FROM users WHERE id = ?`, id))
}

// GetUserByUsername returns the user with the given username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, status, vault_salt, created_at, updated_at
		FROM users WHERE username = ?`, username))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	var pw sql.NullString
	err := row.Scan(&u.ID, &u.Username, &pw, &u.IsAdmin, &u.Status, &u.VaultSalt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = pw.String
	return &u, nil
}

// SetUserVaultSalt stores the user's vault salt if not already set.
func (s *Store) SetUserVaultSalt(ctx context.Context, userID string, salt []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET vault_salt = ?, updated_at = ? WHERE id = ? AND vault_salt IS NULL`,
		salt, time.Now().UTC(), userID)
	return err
}

// UpdateUserStatus changes a user's status. Suspension and deactivation
// cascade to every client and session the user owns, in one transaction.
func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
			status, now, userID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return apierror.New(apierror.KindNotFound, "user not found")
		}

		if status == UserSuspended || status == UserDeactivated {
			clientStatus := ClientSuspended
			if status == UserDeactivated {
				clientStatus = ClientRevoked
			}
			if _, err := tx.ExecContext(ctx, `UPDATE clients SET status = ?, updated_at = ? WHERE user_id = ?`,
				clientStatus, now, userID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE user_id = ?`,
				SessionExpired, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GroupsForUser returns the names of all groups the user belongs to,
// always including the implicit all-users group.
func (s *Store) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name FROM groups g
		JOIN user_groups ug ON ug.group_id = g.id
		WHERE ug.user_id = ?
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []string{AllUsersGroup}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != AllUsersGroup {
			groups = append(groups, name)
		}
	}
	return groups, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
