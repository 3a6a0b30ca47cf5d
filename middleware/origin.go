package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// Origin records the caller's network address and user agent in the
// request context. Place it in front of login, refresh, and reset
// handlers so sessions and audit events carry the origin. The address
// comes from RemoteAddr; deployments behind a proxy should resolve their
// trusted forwarding header themselves and call authcore.WithClientIP
// with the result.
func Origin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				ctx = authcore.WithClientIP(ctx, host)
			} else if r.RemoteAddr != "" {
				ctx = authcore.WithClientIP(ctx, r.RemoteAddr)
			}
			if ua := r.UserAgent(); ua != "" {
				ctx = authcore.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
