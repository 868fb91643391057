package tictactoe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/pkg/civil"
	"coffee-loyalty-service/internal/repository"
)

// subBuffer is the per-subscriber update channel capacity. A subscriber
// that falls further behind than this starts losing intermediate updates;
// every update carries the full board, so the next one catches it up.
const subBuffer = 16

// Config holds the game engine's award policy and housekeeping settings.
type Config struct {
	DailyWinCap int
	BaseAward   int64
	AwardStep   int64
	MinAward    int64
	IdleTimeout time.Duration
}

// WinLog counts win transactions for the daily cap.
type WinLog interface {
	CountByUserTypeSince(ctx context.Context, userID int64, txType string, since time.Time) (int, error)
}

// SessionStore persists session snapshots and settles win awards. AwardWinner
// marks the session, credits the winner and records the transaction in one
// atomic step, returning true only when this call performed the transition.
type SessionStore interface {
	Create(ctx context.Context, s *model.GameSession) error
	Update(ctx context.Context, s *model.GameSession) error
	AwardWinner(ctx context.Context, id string, winnerID int64, points int64, description *string) (bool, error)
	GetByID(ctx context.Context, id string) (*model.GameSession, error)
}

// MoveRef identifies the last accepted move.
type MoveRef struct {
	PlayerID int64 `json:"player_id"`
	Row      int   `json:"row"`
	Col      int   `json:"col"`
}

// Update is the full-board state pushed to every session subscriber after
// each accepted move or status change.
type Update struct {
	SessionID     string   `json:"session_id"`
	Board         string   `json:"board"`
	Status        string   `json:"status"`
	WinnerID      *int64   `json:"winner_id,omitempty"`
	LastMove      *MoveRef `json:"last_move,omitempty"`
	AwardedPoints int64    `json:"awarded_points,omitempty"`
}

// Snapshot is a point-in-time view of a session for request/response reads.
type Snapshot struct {
	ID            string `json:"id"`
	PlayerA       int64  `json:"player_a"`
	PlayerB       int64  `json:"player_b,omitempty"`
	Board         string `json:"board"`
	Status        string `json:"status"`
	WinnerID      *int64 `json:"winner_id,omitempty"`
	PointsAwarded int64  `json:"points_awarded,omitempty"`
}

// session is the live, authoritative state of one game. All reads and
// writes of board, status and subscribers happen under mu, which makes the
// parity-derived turn check and the cell write one atomic unit.
type session struct {
	mu sync.Mutex

	id       string
	playerA  int64
	playerB  int64 // 0 until an opponent joins
	board    Board
	status   string
	winnerID *int64
	awarded  int64

	updatedAt time.Time
	subs      map[int64]chan Update
}

func (s *session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:            s.id,
		PlayerA:       s.playerA,
		PlayerB:       s.playerB,
		Board:         s.board.String(),
		Status:        s.status,
		WinnerID:      s.winnerID,
		PointsAwarded: s.awarded,
	}
}

func (s *session) recordLocked() *model.GameSession {
	rec := &model.GameSession{
		ID:       s.id,
		PlayerA:  s.playerA,
		Board:    s.board.String(),
		Status:   s.status,
		WinnerID: s.winnerID,
	}
	if s.playerB != 0 {
		b := s.playerB
		rec.PlayerB = &b
	}
	return rec
}

// broadcastLocked pushes an update to every subscriber in accepted order.
// Sends never block the engine; a saturated subscriber drops the update.
func (s *session) broadcastLocked(u Update) {
	for subID, ch := range s.subs {
		select {
		case ch <- u:
		default:
			log.Warn().Str("session_id", s.id).Int64("subscriber_id", subID).
				Msg("Dropping update for slow subscriber")
		}
	}
}

// Engine is the in-memory authoritative game session engine.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session

	txs   WinLog
	store SessionStore
	clock *civil.Clock
	cfg   Config
}

// New creates a game Engine.
func New(txs WinLog, store SessionStore, clock *civil.Clock, cfg Config) *Engine {
	return &Engine{
		sessions: make(map[string]*session),
		txs:      txs,
		store:    store,
		clock:    clock,
		cfg:      cfg,
	}
}

// Open creates a new session with the caller as the first player.
func (e *Engine) Open(ctx context.Context, playerID int64) (Snapshot, error) {
	s := &session{
		id:        uuid.NewString(),
		playerA:   playerID,
		board:     NewBoard(),
		status:    model.StatusWaiting,
		updatedAt: time.Now(),
		subs:      make(map[int64]chan Update),
	}

	s.mu.Lock()
	rec := s.recordLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := e.store.Create(ctx, rec); err != nil {
		return Snapshot{}, fmt.Errorf("failed to persist session: %w", err)
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	log.Info().Str("session_id", s.id).Int64("player_id", playerID).Msg("Game session opened")
	return snap, nil
}

// getSession returns the live session, rehydrating it from storage if this
// instance does not have it in memory yet.
func (e *Engine) getSession(ctx context.Context, id string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	rec, err := e.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	board, err := ParseBoard(rec.Board)
	if err != nil {
		return nil, fmt.Errorf("corrupt session board: %w", err)
	}

	s = &session{
		id:        rec.ID,
		playerA:   rec.PlayerA,
		board:     board,
		status:    rec.Status,
		winnerID:  rec.WinnerID,
		awarded:   rec.PointsAwarded,
		updatedAt: time.Now(),
		subs:      make(map[int64]chan Update),
	}
	if rec.PlayerB != nil {
		s.playerB = *rec.PlayerB
	}

	e.mu.Lock()
	if existing, ok := e.sessions[id]; ok {
		s = existing
	} else {
		e.sessions[id] = s
	}
	e.mu.Unlock()
	return s, nil
}

// Join binds a player or spectator to the session's broadcast group and
// returns their update channel. Joining is idempotent: a rejoin replaces the
// previous subscription. The second distinct joiner becomes the opponent and
// starts the game; everyone after that is a spectator.
func (e *Engine) Join(ctx context.Context, sessionID string, playerID int64) (<-chan Update, Snapshot, error) {
	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	becameOpponent := false
	if s.status == model.StatusWaiting && playerID != s.playerA && s.playerB == 0 {
		s.playerB = playerID
		s.status = model.StatusPlaying
		s.updatedAt = time.Now()
		becameOpponent = true
	}

	if old, ok := s.subs[playerID]; ok {
		close(old)
	}
	ch := make(chan Update, subBuffer)
	s.subs[playerID] = ch

	if becameOpponent {
		if err := e.store.Update(ctx, s.recordLocked()); err != nil {
			log.Error().Err(err).Str("session_id", s.id).Msg("Failed to persist session join")
		}
		s.broadcastLocked(Update{
			SessionID: s.id,
			Board:     s.board.String(),
			Status:    s.status,
		})
		log.Info().Str("session_id", s.id).Int64("player_id", playerID).Msg("Opponent joined, game started")
	}

	return ch, s.snapshotLocked(), nil
}

// Leave removes the given subscription from the broadcast group. The session
// state is untouched; a disconnect never cancels a game in progress. The map
// entry is only removed if it still holds sub, so a stale connection's
// cleanup never tears down a newer subscription under the same ID.
func (e *Engine) Leave(sessionID string, subscriberID int64, sub <-chan Update) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[subscriberID]; ok && (<-chan Update)(ch) == sub {
		close(ch)
		delete(s.subs, subscriberID)
	}
}

// Move applies one move. Validation order: session active, coordinates in
// range, cell empty, caller is a bound player, caller's turn. An accepted
// move is broadcast to the whole group; a rejection goes only to the caller
// as the returned error.
func (e *Engine) Move(ctx context.Context, sessionID string, playerID int64, row, col int) (*Update, error) {
	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.StatusPlaying {
		return nil, ErrGameNotActive
	}
	if !InBounds(row, col) {
		return nil, ErrOutOfBounds
	}
	if s.board.Cell(row, col) != Empty {
		return nil, ErrCellTaken
	}
	if playerID != s.playerA && playerID != s.playerB {
		return nil, ErrNotAPlayer
	}

	// Turn parity: an even mark count means the first player moves.
	mark := MarkB
	expected := s.playerB
	if s.board.MarkCount()%2 == 0 {
		mark = MarkA
		expected = s.playerA
	}
	if playerID != expected {
		return nil, ErrNotYourTurn
	}

	s.board.set(row, col, mark)
	s.updatedAt = time.Now()

	var awarded int64
	if winMark, won := s.board.Winner(); won {
		winner := s.playerA
		if winMark == MarkB {
			winner = s.playerB
		}
		s.status = model.StatusFinished
		s.winnerID = &winner
		awarded = e.awardWinner(ctx, s, winner)
		s.awarded = awarded
	} else if s.board.Full() {
		s.status = model.StatusFinished
	}

	if err := e.store.Update(ctx, s.recordLocked()); err != nil {
		log.Error().Err(err).Str("session_id", s.id).Msg("Failed to persist move")
	}

	update := Update{
		SessionID:     s.id,
		Board:         s.board.String(),
		Status:        s.status,
		WinnerID:      s.winnerID,
		LastMove:      &MoveRef{PlayerID: playerID, Row: row, Col: col},
		AwardedPoints: awarded,
	}
	s.broadcastLocked(update)
	return &update, nil
}

// awardWinner credits the capped daily win award. The session row's
// points_awarded marker is the idempotency gate: a session that already
// recorded a non-zero award never awards again.
func (e *Engine) awardWinner(ctx context.Context, s *session, winnerID int64) int64 {
	wins, err := e.txs.CountByUserTypeSince(ctx, winnerID, model.TxTypeGameWin, e.clock.Today())
	if err != nil {
		log.Error().Err(err).Int64("winner_id", winnerID).Msg("Failed to count daily wins, skipping award")
		return 0
	}

	points := AwardPoints(wins, e.cfg)
	if points == 0 {
		log.Info().Int64("winner_id", winnerID).Int("wins_today", wins).Msg("Daily win cap reached, no award")
		return 0
	}

	desc := "game win " + s.id
	awarded, err := e.store.AwardWinner(ctx, s.id, winnerID, points, &desc)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id).Int64("winner_id", winnerID).
			Msg("Failed to settle win award")
		return 0
	}
	if !awarded {
		return 0
	}

	log.Info().
		Str("session_id", s.id).
		Int64("winner_id", winnerID).
		Int64("points", points).
		Int("wins_today", wins).
		Msg("Win award credited")
	return points
}

// AwardPoints computes the stepped win award: the base amount shrinks by
// one step per win already taken today, never below the minimum, and stops
// entirely at the daily cap.
func AwardPoints(winsToday int, cfg Config) int64 {
	if winsToday >= cfg.DailyWinCap {
		return 0
	}
	points := cfg.BaseAward - int64(winsToday)*cfg.AwardStep
	if points < cfg.MinAward {
		points = cfg.MinAward
	}
	return points
}

// Snapshot returns the current state of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	s, err := e.getSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Sweep finishes sessions idle beyond the configured timeout with no winner
// and drops finished sessions that nobody subscribes to anymore. Intended to
// run periodically from a janitor goroutine.
func (e *Engine) Sweep(ctx context.Context) {
	if e.cfg.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-e.cfg.IdleTimeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, s := range e.sessions {
		s.mu.Lock()
		switch {
		case s.status == model.StatusFinished:
			if len(s.subs) == 0 {
				delete(e.sessions, id)
			}
		case s.updatedAt.Before(cutoff):
			s.status = model.StatusFinished
			if err := e.store.Update(ctx, s.recordLocked()); err != nil {
				log.Error().Err(err).Str("session_id", id).Msg("Failed to persist abandoned session")
			}
			s.broadcastLocked(Update{
				SessionID: s.id,
				Board:     s.board.String(),
				Status:    s.status,
			})
			for subID, ch := range s.subs {
				close(ch)
				delete(s.subs, subID)
			}
			delete(e.sessions, id)
			log.Info().Str("session_id", id).Msg("Abandoned session finished with no winner")
		}
		s.mu.Unlock()
	}
}
