package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"coffee-loyalty-service/internal/apperr"
	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/service"
)

type userView struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Balance      int64  `json:"balance"`
	TotalSpins   int64  `json:"total_spins"`
	LastSpinDate string `json:"last_spin_date,omitempty"`
}

func viewUser(u *model.User) userView {
	v := userView{
		ID:         u.ID,
		Username:   u.Username,
		Balance:    u.Balance,
		TotalSpins: u.TotalSpins,
	}
	if u.LastSpinDate != nil {
		v.LastSpinDate = u.LastSpinDate.Format("2006-01-02")
	}
	return v
}

type ensureUserRequest struct {
	Username     string `json:"username"`
	ReferredByID *int64 `json:"referred_by_id,omitempty"`
}

func (h *Handler) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req ensureUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	user, created, err := h.spins.EnsureUser(r.Context(), userID(r), strings.TrimSpace(req.Username), req.ReferredByID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, viewUser(user))
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.spins.GetUser(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user))
}

type spinRequest struct {
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location,omitempty"`
}

func (h *Handler) handleSpin(w http.ResponseWriter, r *http.Request) {
	var req spinRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperr.New(apperr.Validation, "invalid request body"))
			return
		}
	}

	var loc *service.Location
	if req.Location != nil {
		loc = &service.Location{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude}
	}

	result, err := h.spins.Spin(r.Context(), userID(r), loc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSpinHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.spins.SpinHistory(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type spinView struct {
		Reward    int64  `json:"reward"`
		CreatedAt string `json:"created_at"`
	}
	views := make([]spinView, 0, len(records))
	for _, rec := range records {
		views = append(views, spinView{Reward: rec.Reward, CreatedAt: rec.CreatedAt.Format(timeFormat)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"spins": views})
}

func (h *Handler) handlePointHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := h.spins.PointHistory(r.Context(), userID(r), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type txView struct {
		Amount      int64  `json:"amount"`
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
		CreatedAt   string `json:"created_at"`
	}
	views := make([]txView, 0, len(txs))
	for _, tx := range txs {
		v := txView{Amount: tx.Amount, Type: tx.Type, CreatedAt: tx.CreatedAt.Format(timeFormat)}
		if tx.Description != nil {
			v.Description = *tx.Description
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

type issueRequest struct {
	Points int64 `json:"points"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	code, err := h.redeem.Issue(r.Context(), userID(r), req.Points)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":       code.Code,
		"points":     code.Points,
		"expires_at": code.ExpiresAt.Format(timeFormat),
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	conf, err := h.redeem.Verify(r.Context(), strings.ToUpper(strings.TrimSpace(req.Code)), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":       conf.Code,
		"points":     conf.Points,
		"owner_id":   conf.OwnerID,
		"owner_name": conf.OwnerName,
		"used_at":    conf.UsedAt.Format(timeFormat),
	})
}

func (h *Handler) handlePeek(w http.ResponseWriter, r *http.Request) {
	code, err := h.redeem.Peek(r.Context(), strings.ToUpper(chi.URLParam(r, "code")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":       code.Code,
		"points":     code.Points,
		"expires_at": code.ExpiresAt.Format(timeFormat),
	})
}
