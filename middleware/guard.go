package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type authContextKey struct{}

// AuthContextFromContext returns the identity a guard attached to the
// request, if any.
func AuthContextFromContext(ctx context.Context) (*authcore.AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*authcore.AuthContext)
	return ac, ok
}

// BearerToken extracts the token from an Authorization header value. It
// reports false for a missing "Bearer " prefix or an empty remainder.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// Authenticate resolves the bearer token through the engine and forwards
// the request with the identity attached. Requests without a valid token
// get a bare 401.
func Authenticate(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ac, err := engine.GetAuthContext(r.Context(), token)
			if err != nil {
				writeDenied(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeDenied separates backend outages from rejected credentials without
// leaking which check failed.
func writeDenied(w http.ResponseWriter, err error) {
	if errors.Is(err, authcore.ErrStoreUnavailable) || errors.Is(err, authcore.ErrCacheUnavailable) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
