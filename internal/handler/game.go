package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/apperr"
)

func (h *Handler) handleOpenGame(w http.ResponseWriter, r *http.Request) {
	snap, err := h.games.Open(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleGameState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.games.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type moveRequest struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid request body"))
		return
	}

	update, err := h.games.Move(r.Context(), chi.URLParam(r, "id"), userID(r), req.Row, req.Col)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, update)
}

// handleGameEvents streams session updates as server-sent events. The first
// event is the current snapshot so a late joiner starts from the full board.
func (h *Handler) handleGameEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperr.New(apperr.Validation, "streaming not supported"))
		return
	}

	sessionID := chi.URLParam(r, "id")
	id := userID(r)
	updates, snap, err := h.games.Join(r.Context(), sessionID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.games.Leave(sessionID, id, updates)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, "snapshot", snap)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case update, open := <-updates:
			if !open {
				return
			}
			writeEvent(w, "update", update)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
