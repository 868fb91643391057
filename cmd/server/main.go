// Package main is the entry point for the coffee loyalty service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/config"
	"coffee-loyalty-service/internal/game/tictactoe"
	"coffee-loyalty-service/internal/handler"
	"coffee-loyalty-service/internal/notify"
	"coffee-loyalty-service/internal/pkg/civil"
	"coffee-loyalty-service/internal/pkg/db"
	"coffee-loyalty-service/internal/pkg/kv"
	"coffee-loyalty-service/internal/pkg/lock"
	"coffee-loyalty-service/internal/repository"
	"coffee-loyalty-service/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Civil-day clock in the shop's timezone
	clock, err := civil.NewClock(cfg.Loyalty.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Loyalty.Timezone).Msg("Invalid timezone")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	spinRepo := repository.NewSpinRepository(dbPool.Pool)
	txRepo := repository.NewPointTxRepository(dbPool.Pool)
	codeRepo := repository.NewCodeRepository(dbPool.Pool)
	sessionRepo := repository.NewSessionRepository(dbPool.Pool)

	// Coordination store
	var cache kv.Store
	switch cfg.KV.Driver {
	case "postgres":
		cache = kv.NewPostgresStore(dbPool.Pool)
	default:
		mem := kv.NewMemoryStore(cfg.KV.SweepInterval)
		defer mem.Close()
		cache = mem
	}
	log.Info().Str("driver", cfg.KV.Driver).Msg("Coordination store ready")

	// Notification sink; without a token notifications are dropped
	var notifier service.Notifier
	if cfg.Bot.Token != "" {
		tg, err := notify.NewTelegram(cfg.Bot.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create notification bot")
		}
		notifier = tg
	} else {
		log.Warn().Msg("No bot token configured, notifications disabled")
		notifier = notify.NewNoop()
	}

	userLocks := lock.NewKeyedLock()

	// Initialize services
	spinService := service.NewSpinService(
		userRepo, spinRepo, txRepo,
		clock, userLocks, notifier,
		service.NewWeightedPicker(time.Now().UnixNano()),
		service.SpinConfig{
			Rewards:       cfg.Loyalty.Rewards,
			Weights:       cfg.Loyalty.Weights,
			InStoreBonus:  cfg.Loyalty.InStoreBonus,
			ReferralBonus: cfg.Loyalty.ReferralBonus,
		},
	)

	redeemService := service.NewRedeemService(
		userRepo, codeRepo, txRepo,
		cache, clock, userLocks, notifier, cfg,
		service.RedeemConfig{
			CodeTTL:        cfg.Redeem.CodeTTL,
			MinPoints:      cfg.Redeem.MinPoints,
			BackofficeChat: cfg.Bot.BackofficeChat,
		},
	)

	// Game session engine with its idle-session janitor
	gameEngine := tictactoe.New(
		txRepo, sessionRepo, clock,
		tictactoe.Config{
			DailyWinCap: cfg.Game.DailyWinCap,
			BaseAward:   cfg.Game.BaseAward,
			AwardStep:   cfg.Game.AwardStep,
			MinAward:    cfg.Game.MinAward,
			IdleTimeout: cfg.Game.IdleTimeout,
		},
	)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gameEngine.Sweep(ctx)
			}
		}
	}()

	// HTTP server
	h := handler.New(spinService, redeemService, gameEngine, dbPool)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.Routes(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			last_spin_date DATE,
			total_spins BIGINT NOT NULL DEFAULT 0,
			referred_by_id BIGINT,
			referral_bonus_paid BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by_id) WHERE referred_by_id IS NOT NULL;
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: Create spin history table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS spin_records (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			reward BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_spin_records_user_time ON spin_records(user_id, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: spin_records table created")

	// Migration 3: Create point transactions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS point_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_user_time ON point_transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_point_transactions_user_type_time ON point_transactions(user_id, type, created_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: point_transactions table created")

	// Migration 4: Create redemption codes table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS redemption_codes (
			code VARCHAR(8) PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			points BIGINT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ,
			used_by_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_redemption_codes_user ON redemption_codes(user_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: redemption_codes table created")

	// Migration 5: Create game sessions table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS game_sessions (
			id UUID PRIMARY KEY,
			player_a BIGINT NOT NULL,
			player_b BIGINT,
			board VARCHAR(9) NOT NULL,
			status VARCHAR(20) NOT NULL,
			winner_id BIGINT,
			points_awarded BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_game_sessions_status ON game_sessions(status, updated_at);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: game_sessions table created")

	// Migration 6: Create coordination store table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key VARCHAR(255) PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 6: kv_entries table created")

	return nil
}
