package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetConfigValue returns a stored override and whether one exists.
func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryRow(ctx, "SELECT value FROM agent_configs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, true, nil
}

// SetConfigValue stores an override, replacing any previous value.
func (s *Store) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, `
		INSERT INTO agent_configs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}
