package handler

import (
	"errors"
	"net/http"

	"github.com/mcpgrid/connectd/internal/api/response"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/internal/store"
)

// writeServiceError maps lifecycle service errors onto the HTTP error
// taxonomy. Anything unmapped is a 500 with no internals leaked.
func writeServiceError(w http.ResponseWriter, err error) {
	var pinRejected *connections.PinRejectedError

	switch {
	case errors.Is(err, connections.ErrNameRequired),
		errors.Is(err, connections.ErrInvalidAccessMode),
		errors.Is(err, connections.ErrNoMCPSelected),
		errors.Is(err, connections.ErrUnknownMCP):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)

	case errors.Is(err, connections.ErrLimitReached):
		response.Error(w, http.StatusPaymentRequired, "LIMIT_REACHED",
			"Connection limit reached for your plan", nil)

	case errors.Is(err, connections.ErrNotPermitted):
		response.Error(w, http.StatusForbidden, "FORBIDDEN",
			"You may not modify this connection", nil)

	case errors.Is(err, connections.ErrNeedsRegeneration):
		response.Error(w, http.StatusConflict, "NEEDS_REGENERATION",
			"This key predates PIN protection and can only be regenerated", nil)

	case errors.Is(err, connections.ErrPinLocked):
		response.Error(w, http.StatusLocked, "PIN_LOCKED",
			"Too many failed PIN attempts, try again later", nil)

	case errors.As(err, &pinRejected):
		response.Error(w, http.StatusForbidden, "PIN_INVALID",
			"Incorrect PIN", map[string]int{"remaining_attempts": pinRejected.Remaining})

	case errors.Is(err, connections.ErrPinNotSet):
		response.Error(w, http.StatusConflict, "PIN_NOT_SET",
			"Set a reveal PIN before using this operation", nil)

	case errors.Is(err, connections.ErrPinAlreadySet):
		response.Error(w, http.StatusConflict, "PIN_ALREADY_SET",
			"A reveal PIN is already set", nil)

	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Connection not found", nil)

	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
