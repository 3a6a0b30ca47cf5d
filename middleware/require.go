package middleware

import (
	"net/http"
	"slices"

	"github.com/MrEthical07/authcore"
)

// RequirePermission authenticates the request and additionally demands
// perm among the resolved grants. Authenticated requests without it get a
// bare 403.
func RequirePermission(engine *authcore.Engine, perm string) func(http.Handler) http.Handler {
	return requireGrant(engine, func(ac *authcore.AuthContext) bool {
		return slices.Contains(ac.Permissions, perm)
	})
}

// RequireRole authenticates the request and additionally demands the
// named role.
func RequireRole(engine *authcore.Engine, role string) func(http.Handler) http.Handler {
	return requireGrant(engine, func(ac *authcore.AuthContext) bool {
		return slices.Contains(ac.Roles, role)
	})
}

func requireGrant(engine *authcore.Engine, allowed func(*authcore.AuthContext) bool) func(http.Handler) http.Handler {
	authenticate := Authenticate(engine)
	return func(next http.Handler) http.Handler {
		return authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthContextFromContext(r.Context())
			if !ok || !allowed(ac) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
