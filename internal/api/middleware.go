// Package api implements the local anc HTTP API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// queryTokenParam carries the token for clients that cannot set headers.
const queryTokenParam = "access_token"

// AuthMiddleware returns middleware that requires a Bearer token in the
// Authorization header. If enabled is false, all requests pass through.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return auth(enabled, token, false)
}

// StreamAuthMiddleware is AuthMiddleware for event streams: browsers'
// EventSource cannot set headers, so the token may also arrive as the
// access_token query parameter.
func StreamAuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return auth(enabled, token, true)
}

func auth(enabled bool, token string, allowQuery bool) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok && allowQuery {
				got = r.URL.Query().Get(queryTokenParam)
				ok = got != ""
			}
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="anc"`)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
