package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mcpgrid/connectd/internal/api/response"
	"github.com/mcpgrid/connectd/internal/secrets"
	"github.com/mcpgrid/connectd/internal/store"
	"github.com/mcpgrid/connectd/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store store.Store
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.Store) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer connection key: prefix lookup, bcrypt
// comparison, expiry check. On success it sets the tenant, key prefix,
// scopes and the acting user (the key's creator) in the request context.
// Revoked keys are invisible to the prefix lookup and fail like unknown ones.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < secrets.PrefixLen || !strings.HasPrefix(rawKey, secrets.SecretPrefix) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid connection key format", nil)
			return
		}

		prefix := rawKey[:secrets.PrefixLen]

		conns, err := a.store.GetConnectionsByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate connection key", nil)
			return
		}

		var matched *models.Connection
		for _, conn := range conns {
			if bcrypt.CompareHashAndPassword([]byte(conn.KeyHash), []byte(rawKey)) == nil {
				matched = conn
				break
			}
		}
		if matched == nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid connection key", nil)
			return
		}
		if matched.IsExpired(time.Now().UTC()) {
			response.Error(w, http.StatusUnauthorized,
				"TOKEN_EXPIRED", "Connection key has expired", nil)
			return
		}

		actor, err := a.store.GetUser(r.Context(), matched.CreatedBy)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Connection key has no valid owner", nil)
			return
		}

		ctx := r.Context()
		ctx = SetTenantID(ctx, matched.TenantID)
		ctx = SetActor(ctx, actor)
		ctx = SetKeyPrefix(ctx, prefix)
		ctx = setScopes(ctx, matched.Scopes)

		// Update last_used_at async
		go a.store.UpdateConnectionLastUsed(context.Background(), matched.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope returns middleware that checks whether the authenticated
// connection key carries the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

// RequireTenantAdmin returns middleware that restricts a route to roles
// allowed to change tenant-level settings.
func (a *Auth) RequireTenantAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r)
		if !ok || !actor.Role.CanAdministerTenant() {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
