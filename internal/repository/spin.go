package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-loyalty-service/internal/model"
)

// SpinRepository handles append-only spin history.
// The one-spin-per-day invariant is enforced by the engine through the
// users row, not by this table.
type SpinRepository struct {
	pool *pgxpool.Pool
}

// NewSpinRepository creates a new SpinRepository instance.
func NewSpinRepository(pool *pgxpool.Pool) *SpinRepository {
	return &SpinRepository{pool: pool}
}

// Create appends a spin record.
func (r *SpinRepository) Create(ctx context.Context, userID int64, reward int64) (*model.SpinRecord, error) {
	const query = `
		INSERT INTO spin_records (user_id, reward, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, user_id, reward, created_at
	`

	var rec model.SpinRecord
	err := r.pool.QueryRow(ctx, query, userID, reward).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Reward,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create spin record: %w", err)
	}
	return &rec, nil
}

// ListByUser retrieves a user's most recent spins, newest first.
func (r *SpinRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.SpinRecord, error) {
	const query = `
		SELECT id, user_id, reward, created_at
		FROM spin_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list spin records: %w", err)
	}
	defer rows.Close()

	var records []*model.SpinRecord
	for rows.Next() {
		var rec model.SpinRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Reward, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spin record: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating spin records: %w", err)
	}

	return records, nil
}
