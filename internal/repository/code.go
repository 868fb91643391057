package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-loyalty-service/internal/model"
)

// Redemption code repository errors.
var (
	ErrCodeNotFound = errors.New("redemption code not found")

	// ErrCodeExists means the generated code collided with a live one.
	// The caller regenerates and retries.
	ErrCodeExists = errors.New("redemption code already exists")

	// ErrCodeNotConsumable means the code exists but is already used or
	// expired; the caller re-reads the row to tell the two apart.
	ErrCodeNotConsumable = errors.New("redemption code not consumable")
)

const codeColumns = `code, user_id, points, expires_at, used_at, used_by_id, created_at`

// CodeRepository handles redemption code persistence.
type CodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository creates a new CodeRepository instance.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

func scanCode(row pgx.Row) (*model.RedemptionCode, error) {
	var c model.RedemptionCode
	err := row.Scan(
		&c.Code,
		&c.UserID,
		&c.Points,
		&c.ExpiresAt,
		&c.UsedAt,
		&c.UsedByID,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a freshly issued code. The unique index on code turns a
// collision into ErrCodeExists.
func (r *CodeRepository) Create(ctx context.Context, code string, userID int64, points int64, expiresAt time.Time) (*model.RedemptionCode, error) {
	const query = `
		INSERT INTO redemption_codes (code, user_id, points, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + codeColumns

	c, err := scanCode(r.pool.QueryRow(ctx, query, code, userID, points, expiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrCodeExists
		}
		return nil, fmt.Errorf("failed to create redemption code: %w", err)
	}
	return c, nil
}

// GetByCode retrieves a code row regardless of its state.
func (r *CodeRepository) GetByCode(ctx context.Context, code string) (*model.RedemptionCode, error) {
	const query = `SELECT ` + codeColumns + ` FROM redemption_codes WHERE code = $1`

	c, err := scanCode(r.pool.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get redemption code: %w", err)
	}
	return c, nil
}

// Consume marks a code used, exactly once. The used_at IS NULL predicate
// and the expiry check are part of the update itself, so of any number of
// concurrent verification attempts exactly one row mutation happens;
// the rest get ErrCodeNotConsumable.
func (r *CodeRepository) Consume(ctx context.Context, code string, verifierID int64, now time.Time) (*model.RedemptionCode, error) {
	const query = `
		UPDATE redemption_codes
		SET used_at = $3, used_by_id = $2
		WHERE code = $1 AND used_at IS NULL AND expires_at > $3
		RETURNING ` + codeColumns

	c, err := scanCode(r.pool.QueryRow(ctx, query, code, verifierID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotConsumable
		}
		return nil, fmt.Errorf("failed to consume redemption code: %w", err)
	}
	return c, nil
}
