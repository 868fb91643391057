package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coffee-loyalty-service/internal/model"
)

// ErrSessionNotFound is returned when a game session does not exist.
var ErrSessionNotFound = errors.New("game session not found")

const sessionColumns = `id, player_a, player_b, board, status, winner_id, points_awarded, created_at, updated_at`

// SessionRepository persists game session snapshots. The in-memory engine
// is authoritative while a session is live; this table carries the durable
// record and the award idempotency marker.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.GameSession, error) {
	var s model.GameSession
	err := row.Scan(
		&s.ID,
		&s.PlayerA,
		&s.PlayerB,
		&s.Board,
		&s.Status,
		&s.WinnerID,
		&s.PointsAwarded,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session snapshot.
func (r *SessionRepository) Create(ctx context.Context, s *model.GameSession) error {
	const query = `
		INSERT INTO game_sessions (id, player_a, player_b, board, status, winner_id, points_awarded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
	`

	_, err := r.pool.Exec(ctx, query, s.ID, s.PlayerA, s.PlayerB, s.Board, s.Status, s.WinnerID)
	if err != nil {
		return fmt.Errorf("failed to create game session: %w", err)
	}
	return nil
}

// Update writes the current board, players, status and winner.
func (r *SessionRepository) Update(ctx context.Context, s *model.GameSession) error {
	const query = `
		UPDATE game_sessions
		SET player_b = $2, board = $3, status = $4, winner_id = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, s.ID, s.PlayerB, s.Board, s.Status, s.WinnerID)
	if err != nil {
		return fmt.Errorf("failed to update game session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// AwardWinner credits the winner's balance and records the win transaction,
// gated on the session's points_awarded marker — all in one database
// transaction, so the marker and the credit commit or roll back together.
// Returns true only when this call performed the transition from zero; a
// session that already carries a non-zero award is never awarded again.
func (r *SessionRepository) AwardWinner(ctx context.Context, id string, winnerID int64, points int64, description *string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin award transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const markQuery = `
		UPDATE game_sessions
		SET points_awarded = $2, updated_at = NOW()
		WHERE id = $1 AND points_awarded = 0
	`
	tag, err := tx.Exec(ctx, markQuery, id, points)
	if err != nil {
		return false, fmt.Errorf("failed to mark session awarded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	const creditQuery = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err = tx.Exec(ctx, creditQuery, winnerID, points)
	if err != nil {
		return false, fmt.Errorf("failed to credit win award: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrUserNotFound
	}

	const recordQuery = `
		INSERT INTO point_transactions (user_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := tx.Exec(ctx, recordQuery, winnerID, points, model.TxTypeGameWin, description); err != nil {
		return false, fmt.Errorf("failed to record win transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit award transaction: %w", err)
	}
	return true, nil
}

// GetByID retrieves a session snapshot.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.GameSession, error) {
	const query = `SELECT ` + sessionColumns + ` FROM game_sessions WHERE id = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}
	return s, nil
}
