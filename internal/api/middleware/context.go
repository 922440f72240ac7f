package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcpgrid/connectd/pkg/models"
)

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	actorKey     contextKey = "actor"
	keyPrefixKey contextKey = "key_prefix"
	scopesKey    contextKey = "scopes"
)

func SetTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func GetTenantID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(tenantIDKey).(uuid.UUID)
	return id, ok
}

func SetActor(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, actorKey, u)
}

// GetActor returns the user acting on this request, resolved by the auth
// middleware from the presented credential.
func GetActor(r *http.Request) (*models.User, bool) {
	u, ok := r.Context().Value(actorKey).(*models.User)
	return u, ok
}

func SetKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}
