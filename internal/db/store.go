package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailchat/internal/crypto"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store is the only path to the database. Every exported method holds the store mutex
// for its whole connect-execute-commit unit, so each call is atomic with respect to the
// others, but no transaction spans two calls.
type Store struct {
	pool   *pgxpool.Pool
	sealer *crypto.CredentialSealer
	mu     sync.Mutex
}

// NewStore wraps pool. The sealer encrypts account passwords on write and decrypts them on read.
func NewStore(pool *pgxpool.Pool, sealer *crypto.CredentialSealer) *Store {
	return &Store{pool: pool, sealer: sealer}
}

// Ping checks connectivity under the store lock.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Ping(ctx)
}

// withTx runs fn inside one transaction. Callers must hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
