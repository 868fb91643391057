package tictactoe

import "coffee-loyalty-service/internal/apperr"

// Game engine errors, classified for the transport boundary.
// Rejections are delivered only to the requester, never broadcast.
var (
	ErrSessionNotFound = apperr.New(apperr.NotFound, "game session not found")
	ErrGameNotActive   = apperr.New(apperr.Conflict, "game is not active")
	ErrOutOfBounds     = apperr.New(apperr.Validation, "cell coordinates out of bounds")
	ErrCellTaken       = apperr.New(apperr.Conflict, "cell already taken")
	ErrNotAPlayer      = apperr.New(apperr.Forbidden, "not a player in this session")
	ErrNotYourTurn     = apperr.New(apperr.Conflict, "not your turn")
)
