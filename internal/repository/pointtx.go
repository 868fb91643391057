package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-loyalty-service/internal/model"
)

// PointTxRepository handles point transaction persistence. Every balance
// change carries a matching transaction row for audit and for the game
// engine's daily win counting.
type PointTxRepository struct {
	pool *pgxpool.Pool
}

// NewPointTxRepository creates a new PointTxRepository instance.
func NewPointTxRepository(pool *pgxpool.Pool) *PointTxRepository {
	return &PointTxRepository{pool: pool}
}

// Create creates a new point transaction record.
func (r *PointTxRepository) Create(ctx context.Context, userID int64, amount int64, txType string, description *string) (*model.PointTransaction, error) {
	const query = `
		INSERT INTO point_transactions (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, amount, type, description, created_at
	`

	var tx model.PointTransaction
	err := r.pool.QueryRow(ctx, query, userID, amount, txType, description).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create point transaction: %w", err)
	}
	return &tx, nil
}

// CountByUserTypeSince counts a user's transactions of one type created at
// or after the given instant. The game engine passes civil midnight here to
// enforce the daily win cap.
func (r *PointTxRepository) CountByUserTypeSince(ctx context.Context, userID int64, txType string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM point_transactions
		WHERE user_id = $1 AND type = $2 AND created_at >= $3
	`

	var count int
	err := r.pool.QueryRow(ctx, query, userID, txType, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count point transactions: %w", err)
	}
	return count, nil
}

// ListByUser retrieves a user's transactions, newest first.
func (r *PointTxRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	const query = `
		SELECT id, user_id, amount, type, description, created_at
		FROM point_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list point transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.PointTransaction
	for rows.Next() {
		var tx model.PointTransaction
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Amount,
			&tx.Type,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan point transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating point transactions: %w", err)
	}

	return transactions, nil
}
