package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/apperr"
	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/pkg/civil"
	"coffee-loyalty-service/internal/pkg/kv"
	"coffee-loyalty-service/internal/pkg/lock"
	"coffee-loyalty-service/internal/repository"
)

// Redemption engine errors, classified for the transport boundary.
var (
	ErrCodeNotFound       = apperr.New(apperr.NotFound, "code not found")
	ErrCodeAlreadyUsed    = apperr.New(apperr.Conflict, "code already used")
	ErrCodeExpired        = apperr.New(apperr.Conflict, "code expired")
	ErrNotStaff           = apperr.New(apperr.Forbidden, "staff role required")
	ErrBadCodeFormat      = apperr.New(apperr.Validation, "malformed code")
	ErrBelowMinimum       = apperr.New(apperr.Validation, "points below redemption minimum")
	ErrInsufficientPoints = apperr.New(apperr.Conflict, "not enough points")
)

// codePattern is the single fixed code format: two uppercase letters,
// a dash, five digits.
var codePattern = regexp.MustCompile(`^[A-Z]{2}-[0-9]{5}$`)

// codeInsertAttempts bounds regeneration on unique-index collisions.
const codeInsertAttempts = 5

func codeCacheKey(code string) string { return "code:" + code }

// CodeStore is the slice of the code repository the engine uses.
type CodeStore interface {
	Create(ctx context.Context, code string, userID int64, points int64, expiresAt time.Time) (*model.RedemptionCode, error)
	GetByCode(ctx context.Context, code string) (*model.RedemptionCode, error)
	Consume(ctx context.Context, code string, verifierID int64, now time.Time) (*model.RedemptionCode, error)
}

// StaffDirectory answers role checks for verification.
type StaffDirectory interface {
	IsStaff(userID int64) bool
}

// RedeemConfig holds the redemption engine configuration.
type RedeemConfig struct {
	CodeTTL        time.Duration
	MinPoints      int64
	BackofficeChat int64
}

// Confirmation is the receipt returned on successful verification.
type Confirmation struct {
	Code      string
	Points    int64
	OwnerID   int64
	OwnerName string
	UsedAt    time.Time
}

// codeSummary is the cached fast-lookup payload for an issued code.
type codeSummary struct {
	UserID    int64     `json:"user_id"`
	Points    int64     `json:"points"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedeemService issues short-lived single-use codes and lets staff consume
// them exactly once.
type RedeemService struct {
	users    UserLedger
	codes    CodeStore
	txs      TxLog
	cache    kv.Store
	clock    *civil.Clock
	locks    *lock.KeyedLock
	notifier Notifier
	staff    StaffDirectory
	cfg      RedeemConfig
}

// NewRedeemService creates a new RedeemService instance.
func NewRedeemService(
	users UserLedger,
	codes CodeStore,
	txs TxLog,
	cache kv.Store,
	clock *civil.Clock,
	locks *lock.KeyedLock,
	notifier Notifier,
	staff StaffDirectory,
	cfg RedeemConfig,
) *RedeemService {
	return &RedeemService{
		users:    users,
		codes:    codes,
		txs:      txs,
		cache:    cache,
		clock:    clock,
		locks:    locks,
		notifier: notifier,
		staff:    staff,
		cfg:      cfg,
	}
}

// Issue deducts points from the user and creates a pending redemption code.
// The deduction is a conditional decrement, so concurrent issues cannot
// overdraw the balance.
func (s *RedeemService) Issue(ctx context.Context, userID int64, points int64) (*model.RedemptionCode, error) {
	if points < s.cfg.MinPoints {
		return nil, ErrBelowMinimum
	}

	key := userKey(userID)
	if !s.locks.LockWithTimeout(ctx, key, lockTimeout) {
		return nil, apperr.Wrap(apperr.Infrastructure, "redemption is busy, try again", lock.ErrLockTimeout)
	}
	defer s.locks.Unlock(key)

	if _, err := s.users.SpendPoints(ctx, userID, points); err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, apperr.Wrap(apperr.NotFound, "user not found", err)
		case errors.Is(err, repository.ErrInsufficientBalance):
			return nil, ErrInsufficientPoints
		default:
			return nil, fmt.Errorf("failed to deduct points: %w", err)
		}
	}

	expiresAt := s.clock.Now().Add(s.cfg.CodeTTL)

	var issued *model.RedemptionCode
	var err error
	for attempt := 0; attempt < codeInsertAttempts; attempt++ {
		code, genErr := generateCode()
		if genErr != nil {
			err = genErr
			break
		}
		issued, err = s.codes.Create(ctx, code, userID, points, expiresAt)
		if err == nil || !errors.Is(err, repository.ErrCodeExists) {
			break
		}
	}
	if err != nil {
		// The deduction already happened; put the points back.
		if _, refundErr := s.users.AddPoints(ctx, userID, points); refundErr != nil {
			log.Error().Err(refundErr).Int64("user_id", userID).Int64("points", points).
				Msg("Failed to refund points after code issue failure")
		}
		return nil, fmt.Errorf("failed to issue code: %w", err)
	}

	desc := "redemption code " + issued.Code
	if _, err := s.txs.Create(ctx, userID, -points, model.TxTypeRedeemSpend, &desc); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to record redemption transaction")
	}

	// Best-effort fast-lookup cache; its loss only costs a DB read.
	if payload, err := json.Marshal(codeSummary{UserID: userID, Points: points, ExpiresAt: expiresAt}); err == nil {
		if err := s.cache.Set(ctx, codeCacheKey(issued.Code), string(payload), s.cfg.CodeTTL); err != nil {
			log.Warn().Err(err).Str("code", issued.Code).Msg("Failed to cache redemption code")
		}
	}

	log.Info().Int64("user_id", userID).Int64("points", points).Str("code", issued.Code).
		Msg("Redemption code issued")

	return issued, nil
}

// Verify consumes a code on behalf of a staff member, exactly once.
// Concurrent attempts on the same code race on a conditional update; the
// losers observe ErrCodeAlreadyUsed.
func (s *RedeemService) Verify(ctx context.Context, code string, verifierID int64) (*Confirmation, error) {
	if !s.staff.IsStaff(verifierID) {
		log.Warn().Int64("verifier_id", verifierID).Str("code", code).
			Msg("Non-staff verification attempt rejected")
		return nil, ErrNotStaff
	}

	if !codePattern.MatchString(code) {
		return nil, ErrBadCodeFormat
	}

	key := codeCacheKey(code)
	if !s.locks.LockWithTimeout(ctx, key, lockTimeout) {
		return nil, apperr.Wrap(apperr.Infrastructure, "verification is busy, try again", lock.ErrLockTimeout)
	}
	defer s.locks.Unlock(key)

	now := s.clock.Now()
	consumed, err := s.codes.Consume(ctx, code, verifierID, now)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotConsumable) {
			return nil, s.classifyUnconsumable(ctx, code, now)
		}
		return nil, fmt.Errorf("failed to consume code: %w", err)
	}

	if err := s.cache.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("Failed to invalidate code cache")
	}

	ownerName := ""
	if owner, err := s.users.GetByID(ctx, consumed.UserID); err == nil {
		ownerName = owner.Username
	}

	if s.cfg.BackofficeChat != 0 {
		s.notifier.Notify(ctx, s.cfg.BackofficeChat,
			fmt.Sprintf("Code %s verified: %d points, customer %s", code, consumed.Points, ownerName))
	}

	log.Info().
		Str("code", code).
		Int64("verifier_id", verifierID).
		Int64("owner_id", consumed.UserID).
		Int64("points", consumed.Points).
		Msg("Redemption code verified")

	return &Confirmation{
		Code:      consumed.Code,
		Points:    consumed.Points,
		OwnerID:   consumed.UserID,
		OwnerName: ownerName,
		UsedAt:    *consumed.UsedAt,
	}, nil
}

// classifyUnconsumable distinguishes why a consume matched no row.
func (s *RedeemService) classifyUnconsumable(ctx context.Context, code string, now time.Time) error {
	existing, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("failed to inspect code: %w", err)
	}
	if existing.UsedAt != nil {
		return ErrCodeAlreadyUsed
	}
	if !now.Before(existing.ExpiresAt) {
		return ErrCodeExpired
	}
	// The consume raced with something that has since been rolled back;
	// treat as retryable.
	return apperr.New(apperr.Infrastructure, "code state changed, try again")
}

// Peek returns the pending summary for a code without consuming it, serving
// the cache first and falling back to storage on a miss.
func (s *RedeemService) Peek(ctx context.Context, code string) (*model.RedemptionCode, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrBadCodeFormat
	}

	if raw, ok, err := s.cache.Get(ctx, codeCacheKey(code)); err == nil && ok {
		var summary codeSummary
		if err := json.Unmarshal([]byte(raw), &summary); err == nil {
			return &model.RedemptionCode{
				Code:      code,
				UserID:    summary.UserID,
				Points:    summary.Points,
				ExpiresAt: summary.ExpiresAt,
			}, nil
		}
	}

	existing, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return existing, nil
}

// generateCode builds a code in the XX-00000 format from crypto/rand.
func generateCode() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const digits = "0123456789"

	buf := make([]byte, 0, 8)
	for i := 0; i < 2; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		buf = append(buf, letters[n.Int64()])
	}
	buf = append(buf, '-')
	for i := 0; i < 5; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		buf = append(buf, digits[n.Int64()])
	}
	return string(buf), nil
}
