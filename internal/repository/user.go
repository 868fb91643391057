// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-loyalty-service/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound = errors.New("user not found")

	// ErrSpinAlreadyRecorded means a spin for the same civil day was already
	// written, i.e. a concurrent attempt lost the conditional update.
	ErrSpinAlreadyRecorded = errors.New("spin already recorded for this day")

	// ErrInsufficientBalance means a conditional spend found fewer points
	// than requested.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const userColumns = `id, username, balance, last_spin_date, total_spins, referred_by_id, referral_bonus_paid, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Balance,
		&user.LastSpinDate,
		&user.TotalSpins,
		&user.ReferredByID,
		&user.ReferralBonusPaid,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create creates a new user. The referrer linkage is recorded once at
// creation and never changed afterwards.
func (r *UserRepository) Create(ctx context.Context, id int64, username string, referredByID *int64) (*model.User, error) {
	const query = `
		INSERT INTO users (id, username, balance, total_spins, referred_by_id, referral_bonus_paid, created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, FALSE, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, username, referredByID))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by their external ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves a user, creating one on first contact.
// Returns the user and whether it was newly created. The referrer linkage
// only applies on creation; an existing user is never re-linked.
func (r *UserRepository) GetOrCreate(ctx context.Context, id int64, username string, referredByID *int64) (*model.User, bool, error) {
	user, err := r.GetByID(ctx, id)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, id, username, referredByID)
	if err != nil {
		// Handle race condition: another request might have created the user
		user, err = r.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// AddPoints increments a user's balance. The amount must be positive;
// spending goes through SpendPoints so the balance can never go negative.
func (r *UserRepository) AddPoints(ctx context.Context, id int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to add points: %w", err)
	}
	return user, nil
}

// SpendPoints decrements a user's balance if it covers the amount.
// Returns ErrInsufficientBalance when it does not; the update and the
// precondition are one statement, so concurrent spends cannot overdraw.
func (r *UserRepository) SpendPoints(ctx context.Context, id int64, amount int64) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, exErr := r.Exists(ctx, id)
			if exErr != nil {
				return nil, exErr
			}
			if !exists {
				return nil, ErrUserNotFound
			}
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to spend points: %w", err)
	}
	return user, nil
}

// RecordSpin applies the spin mutation as one conditional update: credit the
// reward, bump total_spins and stamp last_spin_date, but only if no spin was
// recorded for the same civil day yet. Of N concurrent attempts exactly one
// can match the condition; losers get ErrSpinAlreadyRecorded.
func (r *UserRepository) RecordSpin(ctx context.Context, id int64, reward int64, day time.Time) (*model.User, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, total_spins = total_spins + 1, last_spin_date = $3, updated_at = NOW()
		WHERE id = $1 AND (last_spin_date IS NULL OR last_spin_date <> $3::date)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, reward, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			exists, exErr := r.Exists(ctx, id)
			if exErr != nil {
				return nil, exErr
			}
			if !exists {
				return nil, ErrUserNotFound
			}
			return nil, ErrSpinAlreadyRecorded
		}
		return nil, fmt.Errorf("failed to record spin: %w", err)
	}
	return user, nil
}

// MarkReferralPaid flips referral_bonus_paid to true, once. Returns true
// only for the caller that performed the flip; every later or concurrent
// call observes false and must not credit the referrer.
func (r *UserRepository) MarkReferralPaid(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE users
		SET referral_bonus_paid = TRUE, updated_at = NOW()
		WHERE id = $1 AND referred_by_id IS NOT NULL AND referral_bonus_paid = FALSE
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark referral paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateUsername updates a user's display name.
func (r *UserRepository) UpdateUsername(ctx context.Context, id int64, username string) error {
	const query = `
		UPDATE users
		SET username = $2, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Exists checks if a user with the given ID exists.
func (r *UserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}
