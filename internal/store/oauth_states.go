package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// InsertOAuthState persists a pending authorization state row.
func (s *Store) InsertOAuthState(ctx context.Context, st *OAuthState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_states (state, user_id, catalog_id, code_verifier, redirect_uri, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.State, st.UserID, st.CatalogID, st.CodeVerifier, st.RedirectURI, st.CreatedAt, st.ExpiresAt)
	return err
}

// ConsumeOAuthState atomically fetches and deletes a state row. A state can
// be consumed at most once; a second call (or an expired state) yields
// invalid_state.
func (s *Store) ConsumeOAuthState(ctx context.Context, state string, now time.Time) (*OAuthState, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM oauth_states WHERE state = ?
		RETURNING state, user_id, catalog_id, code_verifier, redirect_uri, created_at, expires_at`, state)

	var st OAuthState
	err := row.Scan(&st.State, &st.UserID, &st.CatalogID, &st.CodeVerifier, &st.RedirectURI, &st.CreatedAt, &st.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindInvalidState, "unknown or already used state")
	}
	if err != nil {
		return nil, err
	}
	if now.After(st.ExpiresAt) {
		return nil, apierror.New(apierror.KindInvalidState, "state expired")
	}
	return &st, nil
}

// CleanupExpiredOAuthStates deletes every state row past its expiry and
// returns how many were removed.
func (s *Store) CleanupExpiredOAuthStates(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
