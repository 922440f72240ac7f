package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mcpgrid/connectd/internal/api/response"
)

// Recovery converts a handler panic into a 500 envelope so one bad request
// cannot take down the listener.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("handler panicked",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
