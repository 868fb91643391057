// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/apperr"
	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/pkg/civil"
	"coffee-loyalty-service/internal/pkg/lock"
	"coffee-loyalty-service/internal/repository"
)

// lockTimeout bounds how long a request waits on a contended entity lock
// before being surfaced as a retryable failure.
const lockTimeout = 3 * time.Second

// UserLedger is the slice of the user repository the engines mutate
// balances through.
type UserLedger interface {
	GetOrCreate(ctx context.Context, id int64, username string, referredByID *int64) (*model.User, bool, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	RecordSpin(ctx context.Context, id int64, reward int64, day time.Time) (*model.User, error)
	AddPoints(ctx context.Context, id int64, amount int64) (*model.User, error)
	SpendPoints(ctx context.Context, id int64, amount int64) (*model.User, error)
	MarkReferralPaid(ctx context.Context, id int64) (bool, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
}

// SpinLog appends and reads spin history.
type SpinLog interface {
	Create(ctx context.Context, userID int64, reward int64) (*model.SpinRecord, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.SpinRecord, error)
}

// TxLog records and reads point transactions.
type TxLog interface {
	Create(ctx context.Context, userID int64, amount int64, txType string, description *string) (*model.PointTransaction, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error)
}

// Notifier delivers fire-and-forget user messages.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// CooldownError reports a spin attempted before the next civil midnight.
type CooldownError struct {
	NextSpinAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("spin already used today, next spin at %s", e.NextSpinAt.Format(time.RFC3339))
}

// Kind classifies the error for the transport boundary.
func (e *CooldownError) Kind() apperr.Kind { return apperr.Cooldown }

// SpinConfig holds the spin engine's reward policy.
type SpinConfig struct {
	Rewards       []int64
	Weights       []int
	InStoreBonus  int64
	ReferralBonus int64
}

// SpinResult is the outcome of a successful spin.
type SpinResult struct {
	Reward     int64 `json:"reward"`
	Balance    int64 `json:"balance"`
	TotalSpins int64 `json:"total_spins"`
}

// Location is an optional client-supplied geolocation hint. It only selects
// the in-store reward bonus and is not a security boundary.
type Location struct {
	Latitude  float64
	Longitude float64
}

// SpinService enforces the one-spin-per-civil-day rule, picks the weighted
// reward and pays the one-time referral bonus on a referred user's first spin.
type SpinService struct {
	users    UserLedger
	spins    SpinLog
	txs      TxLog
	clock    *civil.Clock
	locks    *lock.KeyedLock
	notifier Notifier
	picker   RewardPicker
	cfg      SpinConfig
}

// NewSpinService creates a new SpinService instance. The picker is explicit
// so a deterministic one can be installed for maintenance; production wiring
// passes NewWeightedPicker().
func NewSpinService(
	users UserLedger,
	spins SpinLog,
	txs TxLog,
	clock *civil.Clock,
	locks *lock.KeyedLock,
	notifier Notifier,
	picker RewardPicker,
	cfg SpinConfig,
) *SpinService {
	return &SpinService{
		users:    users,
		spins:    spins,
		txs:      txs,
		clock:    clock,
		locks:    locks,
		notifier: notifier,
		picker:   picker,
		cfg:      cfg,
	}
}

func userKey(id int64) string { return fmt.Sprintf("user:%d", id) }

// EnsureUser ensures a user exists, creating one on first contact.
// The referrer linkage is recorded only at creation; self-referral is ignored.
func (s *SpinService) EnsureUser(ctx context.Context, id int64, username string, referredByID *int64) (*model.User, bool, error) {
	if referredByID != nil && *referredByID == id {
		referredByID = nil
	}

	user, created, err := s.users.GetOrCreate(ctx, id, username, referredByID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}

	if created {
		s.notifier.Notify(ctx, id, "Welcome to the coffee club! Spin the wheel to earn your first points.")
	} else if user.Username != username && username != "" {
		if err := s.users.UpdateUsername(ctx, id, username); err != nil {
			log.Warn().Err(err).Int64("user_id", id).Msg("Failed to refresh username")
		} else {
			user.Username = username
		}
	}

	return user, created, nil
}

// GetUser retrieves a user by ID.
func (s *SpinService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "user not found", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Spin performs the daily wheel spin for a user.
// The whole read-check-write sequence runs under the user's lock, and the
// ledger mutation itself is a conditional update keyed on the civil date, so
// two concurrent spins can never both succeed.
func (s *SpinService) Spin(ctx context.Context, userID int64, loc *Location) (*SpinResult, error) {
	key := userKey(userID)
	if !s.locks.LockWithTimeout(ctx, key, lockTimeout) {
		return nil, apperr.Wrap(apperr.Infrastructure, "spin is busy, try again", lock.ErrLockTimeout)
	}
	defer s.locks.Unlock(key)

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "user not found", err)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	today := s.clock.Today()
	if user.LastSpinDate != nil && civil.SameDay(*user.LastSpinDate, today, s.clock.Location()) {
		return nil, &CooldownError{NextSpinAt: s.clock.NextMidnight()}
	}

	reward := s.picker.Pick(s.cfg.Rewards, s.cfg.Weights)
	if loc != nil {
		reward += s.cfg.InStoreBonus
	}

	updated, err := s.users.RecordSpin(ctx, userID, reward, today)
	if err != nil {
		if errors.Is(err, repository.ErrSpinAlreadyRecorded) {
			// Lost a concurrent race after the eligibility read.
			return nil, &CooldownError{NextSpinAt: s.clock.NextMidnight()}
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, "user not found", err)
		}
		return nil, fmt.Errorf("failed to record spin: %w", err)
	}

	// History appends are audit trail; the balance is already applied, so
	// their failure is logged but does not fail the spin.
	if _, err := s.spins.Create(ctx, userID, reward); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to append spin record")
	}
	desc := "daily wheel spin"
	if _, err := s.txs.Create(ctx, userID, reward, model.TxTypeSpinReward, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to record spin transaction")
	}

	s.maybePayReferralBonus(ctx, updated)

	log.Info().
		Int64("user_id", userID).
		Int64("reward", reward).
		Int64("balance", updated.Balance).
		Msg("Spin recorded")

	return &SpinResult{
		Reward:     reward,
		Balance:    updated.Balance,
		TotalSpins: updated.TotalSpins,
	}, nil
}

// maybePayReferralBonus credits the referrer exactly once, at the moment the
// referred user's total spins transition from 0 to 1. The conditional
// MarkReferralPaid update is the gate; only the caller that flips the flag
// pays out.
func (s *SpinService) maybePayReferralBonus(ctx context.Context, user *model.User) {
	if user.TotalSpins != 1 || user.ReferredByID == nil || user.ReferralBonusPaid {
		return
	}

	paid, err := s.users.MarkReferralPaid(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Failed to mark referral bonus paid")
		return
	}
	if !paid {
		return
	}

	referrerID := *user.ReferredByID
	if _, err := s.users.AddPoints(ctx, referrerID, s.cfg.ReferralBonus); err != nil {
		log.Error().Err(err).
			Int64("referrer_id", referrerID).
			Int64("referred_id", user.ID).
			Msg("Failed to credit referral bonus")
		return
	}

	desc := fmt.Sprintf("referral bonus for user %d", user.ID)
	if _, err := s.txs.Create(ctx, referrerID, s.cfg.ReferralBonus, model.TxTypeReferralBonus, &desc); err != nil {
		log.Error().Err(err).Int64("referrer_id", referrerID).Msg("Failed to record referral transaction")
	}

	s.notifier.Notify(ctx, referrerID,
		fmt.Sprintf("Your friend made their first spin! %d bonus points are yours.", s.cfg.ReferralBonus))

	log.Info().
		Int64("referrer_id", referrerID).
		Int64("referred_id", user.ID).
		Int64("bonus", s.cfg.ReferralBonus).
		Msg("Referral bonus paid")
}

// SpinHistory returns a user's most recent spins.
func (s *SpinService) SpinHistory(ctx context.Context, userID int64, limit int) ([]*model.SpinRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.spins.ListByUser(ctx, userID, limit)
}

// PointHistory returns a user's most recent balance changes, newest first.
func (s *SpinService) PointHistory(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.txs.ListByUser(ctx, userID, limit)
}
