package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSetting reads a row of system_config
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value *string
	err := s.db.QueryRow(ctx, `SELECT config_value FROM system_config WHERE config_key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	if value == nil {
		return "", true, nil
	}
	return *value, true, nil
}

// PutSetting upserts a row of system_config
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_config (config_key, config_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (config_key) DO UPDATE
		SET config_value = EXCLUDED.config_value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", key, err)
	}
	return nil
}
