package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/mcpgrid/connectd/internal/api/middleware"
	"github.com/mcpgrid/connectd/internal/api/response"
	"github.com/mcpgrid/connectd/internal/connections"
	"github.com/mcpgrid/connectd/pkg/models"
)

// ConnectionService defines the lifecycle operations the handlers depend on.
type ConnectionService interface {
	Create(ctx context.Context, p connections.CreateParams) (*connections.Created, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*models.Connection, error)
	Registry(ctx context.Context, tenantID uuid.UUID, force bool) (*connections.RegistryView, error)
	Update(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, p connections.UpdateParams) (*models.Connection, error)
	Rotate(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (*connections.Rotated, error)
	Reveal(ctx context.Context, actor *models.User, tenantID, id uuid.UUID, pin string) (string, error)
	Revoke(ctx context.Context, actor *models.User, tenantID, id uuid.UUID) error
}

// secretResponse carries the one-time plaintext secret next to the
// connection it belongs to. This is the only shape that ever contains it.
type secretResponse struct {
	Connection *models.Connection `json:"connection"`
	Secret     string             `json:"secret"`
}

// NewCreateConnectionHandler returns the handler for POST /api/v1/connections.
func NewCreateConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}

		var req struct {
			Name          string      `json:"name"`
			Scopes        []string    `json:"scopes"`
			AccessMode    string      `json:"mcp_access_mode"`
			AllowedMCPIDs []uuid.UUID `json:"allowed_mcp_ids"`
			ExpiresAt     *string     `json:"expires_at"`
			Pin           string      `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		expiresAt, err := parseOptionalTime(req.ExpiresAt)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"expires_at must be a valid RFC3339 timestamp", nil)
			return
		}

		mode := models.AccessMode(req.AccessMode)
		if req.AccessMode == "" {
			mode = models.AccessAll
		}

		created, err := svc.Create(r.Context(), connections.CreateParams{
			TenantID:      tenantID,
			Actor:         actor,
			Name:          req.Name,
			Scopes:        req.Scopes,
			AccessMode:    mode,
			AllowedMCPIDs: req.AllowedMCPIDs,
			ExpiresAt:     expiresAt,
			Pin:           req.Pin,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Created(w, secretResponse{Connection: created.Connection, Secret: created.Secret})
	}
}

// NewListConnectionsHandler returns the handler for GET /api/v1/connections.
// ?refresh=true bypasses the cached registry view.
func NewListConnectionsHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(w, r)
		if !ok {
			return
		}

		force := r.URL.Query().Get("refresh") == "true"
		view, err := svc.Registry(r.Context(), tenantID, force)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.Collection(w, view.Connections, response.UsageMeta{
			Count:     view.Count,
			Limit:     view.Limit,
			Remaining: view.Remaining,
		})
	}
}

// NewGetConnectionHandler returns the handler for GET /api/v1/connections/{connectionID}.
func NewGetConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		conn, err := svc.Get(r.Context(), tenantID, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, conn)
	}
}

// NewUpdateConnectionHandler returns the handler for PATCH /api/v1/connections/{connectionID}.
func NewUpdateConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req struct {
			Name          *string     `json:"name"`
			AccessMode    *string     `json:"mcp_access_mode"`
			AllowedMCPIDs []uuid.UUID `json:"allowed_mcp_ids"`
			ExpiresAt     *string     `json:"expires_at"`
			ClearExpiry   bool        `json:"clear_expiry"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		expiresAt, err := parseOptionalTime(req.ExpiresAt)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"expires_at must be a valid RFC3339 timestamp", nil)
			return
		}

		params := connections.UpdateParams{
			Name:          req.Name,
			AllowedMCPIDs: req.AllowedMCPIDs,
			ExpiresAt:     expiresAt,
			ClearExpiry:   req.ClearExpiry,
		}
		if req.AccessMode != nil {
			mode := models.AccessMode(*req.AccessMode)
			params.AccessMode = &mode
		}

		updated, err := svc.Update(r.Context(), actor, tenantID, id, params)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, updated)
	}
}

// NewRotateConnectionHandler returns the handler for
// POST /api/v1/connections/{connectionID}/rotate. The optional PIN makes the
// fresh secret revealable later.
func NewRotateConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req struct {
			Pin string `json:"pin"`
		}
		if err := decodeOptionalBody(r, &req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		rotated, err := svc.Rotate(r.Context(), actor, tenantID, id, req.Pin)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		response.JSON(w, struct {
			secretResponse
			OldKeyPrefix string `json:"old_key_prefix"`
		}{
			secretResponse: secretResponse{Connection: rotated.Connection, Secret: rotated.Secret},
			OldKeyPrefix:   rotated.OldPrefix,
		})
	}
}

// NewRevealConnectionHandler returns the handler for
// POST /api/v1/connections/{connectionID}/reveal.
func NewRevealConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
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

		secret, err := svc.Reveal(r.Context(), actor, tenantID, id, req.Pin)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		response.JSON(w, map[string]string{"secret": secret})
	}
}

// NewRevokeConnectionHandler returns the handler for DELETE /api/v1/connections/{connectionID}.
func NewRevokeConnectionHandler(svc ConnectionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, actor, ok := requestIdentity(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.Revoke(r.Context(), actor, tenantID, id); err != nil {
			writeServiceError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// requestIdentity pulls the tenant and acting user set by auth middleware.
func requestIdentity(w http.ResponseWriter, r *http.Request) (uuid.UUID, *models.User, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return uuid.Nil, nil, false
	}
	actor, ok := mw.GetActor(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing actor", nil)
		return uuid.Nil, nil, false
	}
	return tenantID, actor, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid connection id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeOptionalBody decodes JSON when a body is present; an empty body is
// fine for endpoints whose fields are all optional.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
