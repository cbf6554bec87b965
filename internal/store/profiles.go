package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcpambassador/server/internal/apierror"
)

// CreateProfile inserts a tool profile. Pattern sets keep their order.
func (s *Store) CreateProfile(ctx context.Context, p *ToolProfile) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	allow, err := json.Marshal(p.AllowPatterns)
	if err != nil {
		return err
	}
	deny, err := json.Marshal(p.DenyPatterns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_profiles (id, name, allow_patterns, deny_patterns,
			rate_per_minute, rate_per_hour, max_concurrent, parent_profile_id,
			environment_scope, time_scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(allow), string(deny),
		p.RatePerMinute, p.RatePerHour, p.MaxConcurrent, nullStr(p.ParentProfileID),
		nullStr(p.EnvironmentScope), nullStr(p.TimeScope), p.CreatedAt, p.UpdatedAt)
	return err
}

// GetProfile returns the profile with the given id.
func (s *Store) GetProfile(ctx context.Context, id string) (*ToolProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, allow_patterns, deny_patterns, rate_per_minute, rate_per_hour,
		       max_concurrent, parent_profile_id, environment_scope, time_scope, created_at, updated_at
		FROM tool_profiles WHERE id = ?`, id)

	var p ToolProfile
	var allow, deny string
	var parent, envScope, timeScope sql.NullString
	err := row.Scan(&p.ID, &p.Name, &allow, &deny, &p.RatePerMinute, &p.RatePerHour,
		&p.MaxConcurrent, &parent, &envScope, &timeScope, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.KindNotFound, "profile %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	p.ParentProfileID = parent.String
	p.EnvironmentScope = envScope.String
	p.TimeScope = timeScope.String
	if err := json.Unmarshal([]byte(allow), &p.AllowPatterns); err != nil {
		return nil, fmt.Errorf("corrupt allow patterns for profile %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(deny), &p.DenyPatterns); err != nil {
		return nil, fmt.Errorf("corrupt deny patterns for profile %s: %w", id, err)
	}
	return &p, nil
}
