// Package model defines the data models for the loyalty service.
package model

import "time"

// User represents a loyalty program member.
// Balance is only ever adjusted through increments; LastSpinDate holds the
// civil date of the most recent wheel spin in the configured time zone.
type User struct {
	ID                int64      `db:"id"`
	Username          string     `db:"username"`
	Balance           int64      `db:"balance"`
	LastSpinDate      *time.Time `db:"last_spin_date"`
	TotalSpins        int64      `db:"total_spins"`
	ReferredByID      *int64     `db:"referred_by_id"`
	ReferralBonusPaid bool       `db:"referral_bonus_paid"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// SpinRecord is an append-only history entry for a wheel spin.
type SpinRecord struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Reward    int64     `db:"reward"`
	CreatedAt time.Time `db:"created_at"`
}

// RedemptionCode represents a pending points-for-drink exchange.
// UsedAt is set at most once; an expired unused code is rejected lazily
// at verification time.
type RedemptionCode struct {
	Code      string     `db:"code"`
	UserID    int64      `db:"user_id"`
	Points    int64      `db:"points"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
	UsedByID  *int64     `db:"used_by_id"`
	CreatedAt time.Time  `db:"created_at"`
}

// Game session statuses.
const (
	StatusWaiting  = "WAITING"
	StatusPlaying  = "PLAYING"
	StatusFinished = "FINISHED"
)

// GameSession is the persisted snapshot of a two-player board game.
// Board is a 9-character string, row-major, cells '-', 'X' or 'O'.
// A FINISHED session with a nil winner is a draw.
type GameSession struct {
	ID            string    `db:"id"`
	PlayerA       int64     `db:"player_a"`
	PlayerB       *int64    `db:"player_b"`
	Board         string    `db:"board"`
	Status        string    `db:"status"`
	WinnerID      *int64    `db:"winner_id"`
	PointsAwarded int64     `db:"points_awarded"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// PointTransaction records a single balance change.
type PointTransaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeSpinReward    = "spin_reward"    // Daily wheel spin reward
	TxTypeReferralBonus = "referral_bonus" // One-time bonus to the referrer
	TxTypeRedeemSpend   = "redeem_spend"   // Points spent on a redemption code
	TxTypeGameWin       = "game_win"       // Board game win award
)
