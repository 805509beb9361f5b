package auth

import (
	"net/http"
	"strings"

	"github.com/example/animetrack/internal/platform/api"
	"github.com/example/animetrack/internal/platform/httpserver"
)

// RequireRole allows the request only if RequireUser already injected one of roles into context.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := RoleFromContext(r.Context())
			role = strings.TrimSpace(role)
			for _, want := range roles {
				if strings.EqualFold(role, want) {
					next.ServeHTTP(w, r)
					return
				}
			}
			api.Forbidden(w, "AUTH_FORBIDDEN", "insufficient role", httpserver.RequestIDFromContext(r.Context()))
		})
	}
}

// RequireAdmin is RequireRole("admin").
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole("admin")(next)
}
