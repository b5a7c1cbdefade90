package http

import (
	"net/http"

	"chipforge-gateway/internal/auth"
)

// RequireAPIToken rejects requests whose bearer token does not match token.
// With no token configured every request is refused with a 500, so a
// misconfigured gateway never runs open.
func RequireAPIToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeJSON(w, http.StatusInternalServerError, errResp{Error: "API key not configured"})
				return
			}
			got, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok || !auth.Verify(got, token) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeJSON(w, http.StatusUnauthorized, errResp{Error: "invalid API key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
