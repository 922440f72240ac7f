package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/internal/api/response"
	"github.com/mcpgrid/connectd/internal/connections"
)

// PinManager defines the PIN operations the handlers depend on.
type PinManager interface {
	SetPin(ctx context.Context, userID uuid.UUID, pin string) error
	Verify(ctx context.Context, userID uuid.UUID, pin string) (*connections.VerifyResult, error)
}

// NewSetPinHandler returns the handler for POST /api/v1/pin.
func NewSetPinHandler(svc PinManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}

		var req struct {
			Pin string `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.Pin) < 4 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"pin must be at least 4 digits", nil)
			return
		}

		if err := svc.SetPin(r.Context(), actor.ID, req.Pin); err != nil {
			writeServiceError(w, err)
			return
		}
		response.Created(w, map[string]bool{"pin_set": true})
	}
}

// NewVerifyPinHandler returns the handler for POST /api/v1/pin/verify. A
// wrong PIN is a successful verification request: the result reports
// validity and remaining attempts; only lockout is an error status.
func NewVerifyPinHandler(svc PinManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}

		var req struct {
			Pin string `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Pin == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "pin is required", nil)
			return
		}

		result, err := svc.Verify(r.Context(), actor.ID, req.Pin)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if result.Locked && !result.Valid {
			response.Error(w, http.StatusLocked, "PIN_LOCKED",
				"Too many failed PIN attempts, try again later", nil)
			return
		}
		response.JSON(w, result)
	}
}
