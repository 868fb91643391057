// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"coffee-loyalty-service/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runTestMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runTestMigrations applies the database schema
func runTestMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			last_spin_date DATE,
			total_spins BIGINT NOT NULL DEFAULT 0,
			referred_by_id BIGINT,
			referral_bonus_paid BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS spin_records (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			reward BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS point_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_point_transactions_user_type_created
			ON point_transactions (user_id, type, created_at)`,
		`CREATE TABLE IF NOT EXISTS redemption_codes (
			code VARCHAR(8) PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			points BIGINT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ,
			used_by_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS game_sessions (
			id UUID PRIMARY KEY,
			player_a BIGINT NOT NULL,
			player_b BIGINT,
			board VARCHAR(9) NOT NULL,
			status VARCHAR(20) NOT NULL,
			winner_id BIGINT,
			points_awarded BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// UserRepository Tests
// ============================================================================

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Create(ctx, 12345, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Zero(t, user.Balance)
	assert.Zero(t, user.TotalSpins)
	assert.Nil(t, user.LastSpinDate)
	assert.Nil(t, user.ReferredByID)
	assert.False(t, user.ReferralBonusPaid)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_CreateWithReferrer(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "referrer", nil)
	require.NoError(t, err)

	referrerID := int64(1)
	user, err := repo.Create(ctx, 2, "friend", &referrerID)
	require.NoError(t, err)
	require.NotNil(t, user.ReferredByID)
	assert.Equal(t, int64(1), *user.ReferredByID)
	assert.False(t, user.ReferralBonusPaid)
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, 10, "bob", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(10), user.ID)

	// Second call finds the existing row and never re-links a referrer.
	referrerID := int64(999)
	user, created, err = repo.GetOrCreate(ctx, 10, "bob", &referrerID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, user.ReferredByID)
}

func TestUserRepository_SpendPoints(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)
	_, err = repo.AddPoints(ctx, 1, 100)
	require.NoError(t, err)

	user, err := repo.SpendPoints(ctx, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), user.Balance)

	_, err = repo.SpendPoints(ctx, 1, 60)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = repo.SpendPoints(ctx, 404, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_RecordSpinOncePerDay(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	user, err := repo.RecordSpin(ctx, 1, 25, today)
	require.NoError(t, err)
	assert.Equal(t, int64(25), user.Balance)
	assert.Equal(t, int64(1), user.TotalSpins)
	require.NotNil(t, user.LastSpinDate)

	_, err = repo.RecordSpin(ctx, 1, 25, today)
	assert.ErrorIs(t, err, ErrSpinAlreadyRecorded)

	// A different civil day matches the condition again.
	tomorrow := today.AddDate(0, 0, 1)
	user, err = repo.RecordSpin(ctx, 1, 10, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, int64(35), user.Balance)
	assert.Equal(t, int64(2), user.TotalSpins)
}

func TestUserRepository_RecordSpinConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	today := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.RecordSpin(ctx, 1, 25, today)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrSpinAlreadyRecorded)
		}
	}
	assert.Equal(t, 1, succeeded)

	user, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(25), user.Balance)
	assert.Equal(t, int64(1), user.TotalSpins)
}

func TestUserRepository_MarkReferralPaidOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 1, "referrer", nil)
	require.NoError(t, err)
	referrerID := int64(1)
	_, err = repo.Create(ctx, 2, "friend", &referrerID)
	require.NoError(t, err)

	const goroutines = 10
	var wg sync.WaitGroup
	results := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = repo.MarkReferralPaid(ctx, 2)
		}(i)
	}
	wg.Wait()

	flipped := 0
	for _, ok := range results {
		if ok {
			flipped++
		}
	}
	assert.Equal(t, 1, flipped)

	// A user with no referrer can never be marked.
	ok, err := repo.MarkReferralPaid(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// CodeRepository Tests
// ============================================================================

func TestCodeRepository_CreateAndConsume(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	repo := NewCodeRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	code, err := repo.Create(ctx, "AB-12345", 1, 80, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "AB-12345", code.Code)
	assert.Nil(t, code.UsedAt)

	_, err = repo.Create(ctx, "AB-12345", 1, 80, now.Add(5*time.Minute))
	assert.ErrorIs(t, err, ErrCodeExists)

	consumed, err := repo.Consume(ctx, "AB-12345", 500, now)
	require.NoError(t, err)
	require.NotNil(t, consumed.UsedAt)
	require.NotNil(t, consumed.UsedByID)
	assert.Equal(t, int64(500), *consumed.UsedByID)

	_, err = repo.Consume(ctx, "AB-12345", 500, now)
	assert.ErrorIs(t, err, ErrCodeNotConsumable)

	_, err = repo.GetByCode(ctx, "ZZ-00000")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeRepository_ConsumeExpired(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	repo := NewCodeRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = repo.Create(ctx, "CD-00001", 1, 80, now.Add(-time.Minute))
	require.NoError(t, err)

	_, err = repo.Consume(ctx, "CD-00001", 500, now)
	assert.ErrorIs(t, err, ErrCodeNotConsumable)
}

func TestCodeRepository_ConsumeConcurrent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	repo := NewCodeRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = repo.Create(ctx, "EF-22222", 1, 80, now.Add(5*time.Minute))
	require.NoError(t, err)

	const goroutines = 10
	var wg sync.WaitGroup
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Consume(ctx, "EF-22222", int64(500+i), now)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

// ============================================================================
// SessionRepository Tests
// ============================================================================

func TestSessionRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session := &model.GameSession{
		ID:      "3f1f9a52-8f4f-4a0b-9e0f-0d6a8c1b2d3e",
		PlayerA: 1,
		Board:   "---------",
		Status:  model.StatusWaiting,
	}
	require.NoError(t, repo.Create(ctx, session))

	playerB := int64(2)
	session.PlayerB = &playerB
	session.Status = model.StatusPlaying
	session.Board = "X--------"
	require.NoError(t, repo.Update(ctx, session))

	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "X--------", got.Board)
	assert.Equal(t, model.StatusPlaying, got.Status)
	require.NotNil(t, got.PlayerB)
	assert.Equal(t, int64(2), *got.PlayerB)

	_, err = repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionRepository_AwardWinnerOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	txs := NewPointTxRepository(pool)
	repo := NewSessionRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	session := &model.GameSession{
		ID:      "7c2b1d40-aaaa-4bbb-8ccc-111122223333",
		PlayerA: 1,
		Board:   "XXX-OO---",
		Status:  model.StatusFinished,
	}
	require.NoError(t, repo.Create(ctx, session))

	desc := "game win " + session.ID
	const goroutines = 10
	var wg sync.WaitGroup
	results := make([]bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = repo.AwardWinner(ctx, session.ID, 1, 30, &desc)
		}(i)
	}
	wg.Wait()

	awarded := 0
	for _, ok := range results {
		if ok {
			awarded++
		}
	}
	assert.Equal(t, 1, awarded)

	// Marker, balance and transaction move together, exactly once.
	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.PointsAwarded)

	user, err := users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(30), user.Balance)

	count, err := txs.CountByUserTypeSince(ctx, 1, model.TxTypeGameWin, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSessionRepository_AwardWinnerUnknownUserRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewSessionRepository(pool)
	ctx := context.Background()

	session := &model.GameSession{
		ID:      "7c2b1d40-aaaa-4bbb-8ccc-444455556666",
		PlayerA: 1,
		Board:   "XXX-OO---",
		Status:  model.StatusFinished,
	}
	require.NoError(t, repo.Create(ctx, session))

	awarded, err := repo.AwardWinner(ctx, session.ID, 404, 30, nil)
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, awarded)

	// The whole settle rolled back, so the session can still be awarded.
	got, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Zero(t, got.PointsAwarded)
}

// ============================================================================
// PointTxRepository Tests
// ============================================================================

func TestPointTxRepository_CountByUserTypeSince(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	repo := NewPointTxRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		desc := fmt.Sprintf("game win %d", i)
		_, err := repo.Create(ctx, 1, 30, model.TxTypeGameWin, &desc)
		require.NoError(t, err)
	}
	_, err = repo.Create(ctx, 1, 10, model.TxTypeSpinReward, nil)
	require.NoError(t, err)

	count, err := repo.CountByUserTypeSince(ctx, 1, model.TxTypeGameWin, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = repo.CountByUserTypeSince(ctx, 1, model.TxTypeGameWin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	list, err := repo.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

// ============================================================================
// SpinRepository Tests
// ============================================================================

func TestSpinRepository_CreateAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	repo := NewSpinRepository(pool)
	ctx := context.Background()

	_, err := users.Create(ctx, 1, "alice", nil)
	require.NoError(t, err)

	for _, reward := range []int64{5, 10, 25} {
		_, err := repo.Create(ctx, 1, reward)
		require.NoError(t, err)
	}

	records, err := repo.ListByUser(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, int64(25), records[0].Reward)
	assert.Equal(t, int64(10), records[1].Reward)
}
