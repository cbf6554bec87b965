package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

const catalogSelect = `
	SELECT id, name, transport, config, isolation, requires_user_credentials,
	       credential_schema, auth_type, oauth_config, status, validation_status,
	       created_at, updated_at
	FROM mcp_catalog`

// CreateCatalogEntry inserts a catalog entry.
func (s *Store) CreateCatalogEntry(ctx context.Context, e *CatalogEntry) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_catalog (id, name, transport, config, isolation, requires_user_credentials,
			credential_schema, auth_type, oauth_config, status, validation_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Transport, e.Config, e.Isolation, e.RequiresUserCredentials,
		nullStr(e.CredentialSchema), e.AuthType, nullStr(e.OAuthConfig), e.Status,
		nullStr(e.ValidationStatus), e.CreatedAt, e.UpdatedAt)
	return err
}

// GetCatalogEntryByName returns the entry with the given unique name.
func (s *Store) GetCatalogEntryByName(ctx context.Context, name string) (*CatalogEntry, error) {
	return scanCatalogRow(s.db.QueryRowContext(ctx, catalogSelect+` WHERE name = ?`, name))
}

// GetCatalogEntry returns the entry with the given id.
func (s *Store) GetCatalogEntry(ctx context.Context, id string) (*CatalogEntry, error) {
	return scanCatalogRow(s.db.QueryRowContext(ctx, catalogSelect+` WHERE id = ?`, id))
}

// ListPublishedByIsolation returns published catalog entries with the given
// isolation mode.
func (s *Store) ListPublishedByIsolation(ctx context.Context, isolation string) ([]*CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, catalogSelect+` WHERE status = ? AND isolation = ? ORDER BY name`,
		CatalogPublished, isolation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCatalogRows(rows)
}

// PerUserCatalogForUser resolves the published per_user catalog entries a
// user may run: user -> groups (always including all-users) -> group access.
func (s *Store) PerUserCatalogForUser(ctx context.Context, userID string) ([]*CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, catalogSelect+`
		WHERE status = ? AND isolation = ? AND id IN (
			SELECT mga.catalog_id FROM mcp_group_access mga
			JOIN groups g ON g.id = mga.group_id
			WHERE g.name = ? OR g.id IN (
				SELECT group_id FROM user_groups WHERE user_id = ?
			)
		)
		ORDER BY name`,
		CatalogPublished, IsolationPerUser, AllUsersGroup, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCatalogRows(rows)
}

// AddGroup inserts a group.
func (s *Store) AddGroup(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().UTC())
	return err
}

// AddUserToGroup records a group membership.
func (s *Store) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO user_groups (user_id, group_id) VALUES (?, ?)`,
		userID, groupID)
	return err
}

// GrantGroupAccess allows a group to run a catalog entry.
func (s *Store) GrantGroupAccess(ctx context.Context, catalogID, groupID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO mcp_group_access (catalog_id, group_id) VALUES (?, ?)`,
		catalogID, groupID)
	return err
}

func scanCatalogRow(row *sql.Row) (*CatalogEntry, error) {
	var e CatalogEntry
	var credSchema, oauthCfg, valStatus sql.NullString
	err := row.Scan(&e.ID, &e.Name, &e.Transport, &e.Config, &e.Isolation, &e.RequiresUserCredentials,
		&credSchema, &e.AuthType, &oauthCfg, &e.Status, &valStatus, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "catalog entry not found")
	}
	if err != nil {
		return nil, err
	}
	e.CredentialSchema = credSchema.String
	e.OAuthConfig = oauthCfg.String
	e.ValidationStatus = valStatus.String
	return &e, nil
}

func scanCatalogRows(rows *sql.Rows) ([]*CatalogEntry, error) {
	var out []*CatalogEntry
	for rows.Next() {
		var e CatalogEntry
		var credSchema, oauthCfg, valStatus sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Transport, &e.Config, &e.Isolation, &e.RequiresUserCredentials,
			&credSchema, &e.AuthType, &oauthCfg, &e.Status, &valStatus, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.CredentialSchema = credSchema.String
		e.OAuthConfig = oauthCfg.String
		e.ValidationStatus = valStatus.String
		out = append(out, &e)
	}
	return out, rows.Err()
}
