package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

// GetSettings returns stored settings overlaid on the defaults.
func (s *Store) GetSettings(ctx context.Context) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return models.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.Settings{}, fmt.Errorf("failed to scan setting: %w", err)
		}
		raw[key] = value
	}

	if err := rows.Err(); err != nil {
		return models.Settings{}, fmt.Errorf("error iterating settings: %w", err)
	}

	return models.SettingsFromMap(raw), nil
}

// SaveSettings upserts the given keys in one transaction. Unknown keys are rejected
// before anything is written.
func (s *Store) SaveSettings(ctx context.Context, update map[string]string) error {
	if err := models.ValidateSettingsUpdate(update); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx pgx.Tx) error {
		for key, value := range update {
			if _, err := tx.Exec(ctx, `
				INSERT INTO settings (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
			`, key, value); err != nil {
				return fmt.Errorf("failed to save setting %s: %w", key, err)
			}
		}
		return nil
	})
}
