package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/vdavid/mailchat/internal/models"
)

// GetSyncWatermark returns the watermark of an account. An account that was never
// synced gets a zero watermark, not an error.
func (s *Store) GetSyncWatermark(ctx context.Context, accountID int64) (models.SyncWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watermark := models.SyncWatermark{AccountID: accountID}
	var lastUID int64

	err := s.pool.QueryRow(ctx, `
		SELECT last_uid, updated_at
		FROM sync_state
		WHERE account_id = $1
	`, accountID).Scan(&lastUID, &watermark.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return watermark, nil
	}
	if err != nil {
		return watermark, fmt.Errorf("failed to get sync watermark: %w", err)
	}

	watermark.LastUID = uint32(lastUID)
	watermark.UpdatedAt = watermark.UpdatedAt.UTC()
	return watermark, nil
}

// AdvanceSyncWatermark stores max(stored, uid) and a fresh timestamp. The stored value never decreases.
func (s *Store) AdvanceSyncWatermark(ctx context.Context, accountID int64, uid uint32) (models.SyncWatermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watermark := models.SyncWatermark{AccountID: accountID}
	var lastUID int64

	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_state (account_id, last_uid, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (account_id) DO UPDATE SET
			last_uid = GREATEST(sync_state.last_uid, EXCLUDED.last_uid),
			updated_at = EXCLUDED.updated_at
		RETURNING last_uid, updated_at
	`, accountID, int64(uid)).Scan(&lastUID, &watermark.UpdatedAt)
	if err != nil {
		return watermark, fmt.Errorf("failed to advance sync watermark: %w", err)
	}

	watermark.LastUID = uint32(lastUID)
	watermark.UpdatedAt = watermark.UpdatedAt.UTC()
	return watermark, nil
}
