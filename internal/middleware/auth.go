package middleware

import (
	"net/http"

	"optiquantia/internal/auth"
	httpserver "optiquantia/internal/http"
	"optiquantia/internal/models"
)

// IdentitySource is the view of the session resolver the guard needs.
type IdentitySource interface {
	Identity() (models.Identity, bool)
	Resolving() bool
}

// RequireIdentity lets a request through only when an identity is held.
// While the resolver is still working it answers 503 with Retry-After so the
// client can show a loading state; with no identity it answers 401 and the
// login path to redirect to. The identity is injected into the context.
func RequireIdentity(src IdentitySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id, ok := src.Identity()
			if !ok {
				if src.Resolving() {
					w.Header().Set("Retry-After", "1")
					httpserver.JSON(w, http.StatusServiceUnavailable, map[string]any{
						"error":     "session is being resolved",
						"resolving": true,
					})
					return
				}
				httpserver.JSON(w, http.StatusUnauthorized, map[string]string{
					"error":    "unauthorized",
					"redirect": "/login",
				})
				return
			}
			next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), id)))
		})
	}
}

// RequireAdmin answers 403 unless the identity injected by RequireIdentity
// has the administrator role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := auth.IdentityFromContext(req.Context())
		if !ok || !id.IsAdmin() {
			httpserver.JSON(w, http.StatusForbidden, map[string]string{
				"error":    "forbidden",
				"redirect": "/",
			})
			return
		}
		next.ServeHTTP(w, req)
	})
}
