package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"coffee-loyalty-service/internal/apperr"
	"coffee-loyalty-service/internal/service"
)

// errorBody is the uniform error payload.
type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	NextSpinAt string `json:"next_spin_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Cooldown:
		return http.StatusTooManyRequests
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	body := errorBody{Error: err.Error(), Kind: kind.String()}

	var cooldown *service.CooldownError
	if errors.As(err, &cooldown) {
		body.NextSpinAt = cooldown.NextSpinAt.Format(timeFormat)
	}

	if kind == apperr.Infrastructure {
		// Internals stay in the logs, not in the response.
		log.Error().Err(err).Msg("Request failed")
		body.Error = "service unavailable, try again"
	}

	writeJSON(w, statusFor(kind), body)
}
