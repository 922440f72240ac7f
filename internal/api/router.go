package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/mcpgrid/connectd/internal/api/middleware"
	"github.com/mcpgrid/connectd/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateConnection http.HandlerFunc
	ListConnections  http.HandlerFunc
	GetConnection    http.HandlerFunc
	UpdateConnection http.HandlerFunc
	RotateConnection http.HandlerFunc
	RevealConnection http.HandlerFunc
	RevokeConnection http.HandlerFunc

	SetPin    http.HandlerFunc
	VerifyPin http.HandlerFunc

	ListMCPServers http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/connections", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.ListConnections))
			r.Get("/{connectionID}", orNotImplemented(deps.GetConnection))
			r.Post("/{connectionID}/reveal", orNotImplemented(deps.RevealConnection))

			// Lifecycle mutations require a key carrying the admin scope
			r.Group(func(r chi.Router) {
				r.Use(deps.Auth.RequireScope("admin"))

				r.Post("/", orNotImplemented(deps.CreateConnection))
				r.Patch("/{connectionID}", orNotImplemented(deps.UpdateConnection))
				r.Post("/{connectionID}/rotate", orNotImplemented(deps.RotateConnection))
				r.Delete("/{connectionID}", orNotImplemented(deps.RevokeConnection))
			})
		})

		r.Post("/api/v1/pin", orNotImplemented(deps.SetPin))
		r.Post("/api/v1/pin/verify", orNotImplemented(deps.VerifyPin))

		r.Get("/api/v1/mcp-servers", orNotImplemented(deps.ListMCPServers))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
