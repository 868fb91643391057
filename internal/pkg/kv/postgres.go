package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by the kv_entries table, for deployments
// where multiple service instances share one coordination namespace.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the value for key if present and unexpired.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`

	var value string
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return value, true, nil
}

// Set stores a value, overwriting any existing entry.
func (s *PostgresStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	const query = `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`

	_, err := s.pool.Exec(ctx, query, key, value, expiry(ttl))
	if err != nil {
		return fmt.Errorf("failed to set kv entry: %w", err)
	}
	return nil
}

// SetIfAbsent stores a value only if the key is absent or expired.
func (s *PostgresStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// Reclaim an expired entry first so the insert below can win.
	const reclaim = `DELETE FROM kv_entries WHERE key = $1 AND expires_at IS NOT NULL AND expires_at <= NOW()`
	if _, err := s.pool.Exec(ctx, reclaim, key); err != nil {
		return false, fmt.Errorf("failed to reclaim kv entry: %w", err)
	}

	const query = `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query, key, value, expiry(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to set kv entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE key = $1`

	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

func expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}
