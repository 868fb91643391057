// Package handler exposes the loyalty engines over HTTP.
//
// Identity arrives as the X-User-ID header, set by the API gateway after
// authentication; this service trusts it and performs no auth of its own.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/apperr"
	"coffee-loyalty-service/internal/game/tictactoe"
	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/service"
)

const timeFormat = time.RFC3339

// SpinEngine is the spin service surface the handlers use.
type SpinEngine interface {
	EnsureUser(ctx context.Context, id int64, username string, referredByID *int64) (*model.User, bool, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	Spin(ctx context.Context, userID int64, loc *service.Location) (*service.SpinResult, error)
	SpinHistory(ctx context.Context, userID int64, limit int) ([]*model.SpinRecord, error)
	PointHistory(ctx context.Context, userID int64, limit int) ([]*model.PointTransaction, error)
}

// RedeemEngine is the redemption service surface the handlers use.
type RedeemEngine interface {
	Issue(ctx context.Context, userID int64, points int64) (*model.RedemptionCode, error)
	Verify(ctx context.Context, code string, verifierID int64) (*service.Confirmation, error)
	Peek(ctx context.Context, code string) (*model.RedemptionCode, error)
}

// GameEngine is the game session surface the handlers use.
type GameEngine interface {
	Open(ctx context.Context, playerID int64) (tictactoe.Snapshot, error)
	Join(ctx context.Context, sessionID string, playerID int64) (<-chan tictactoe.Update, tictactoe.Snapshot, error)
	Leave(sessionID string, subscriberID int64, sub <-chan tictactoe.Update)
	Move(ctx context.Context, sessionID string, playerID int64, row, col int) (*tictactoe.Update, error)
	Snapshot(ctx context.Context, sessionID string) (tictactoe.Snapshot, error)
}

// HealthChecker reports storage liveness for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler wires the engines into a chi router.
type Handler struct {
	spins  SpinEngine
	redeem RedeemEngine
	games  GameEngine
	health HealthChecker
}

// New creates a Handler.
func New(spins SpinEngine, redeem RedeemEngine, games GameEngine, health HealthChecker) *Handler {
	return &Handler{spins: spins, redeem: redeem, games: games, health: health}
}

// Routes builds the HTTP router.
func (h *Handler) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLog)

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireIdentity)

		r.Post("/users", h.handleEnsureUser)
		r.Get("/me", h.handleMe)

		r.Post("/spin", h.handleSpin)
		r.Get("/spins", h.handleSpinHistory)
			r.Get("/transactions", h.handlePointHistory)

		r.Post("/redeem", h.handleIssue)
		r.Post("/verify-code", h.handleVerify)
		r.Get("/codes/{code}", h.handlePeek)

		r.Route("/games", func(r chi.Router) {
			r.Post("/", h.handleOpenGame)
			r.Get("/{id}", h.handleGameState)
			r.Post("/{id}/moves", h.handleMove)
			r.Get("/{id}/events", h.handleGameEvents)
		})
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

// requireIdentity extracts the authenticated user from X-User-ID.
func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, apperr.New(apperr.Forbidden, "missing or invalid X-User-ID header"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.health.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
