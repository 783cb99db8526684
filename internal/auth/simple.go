// Package auth guards the HTTP API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
)

// EnvToken names the variable holding the API token.
const EnvToken = "PRELOAD_API_TOKEN"

// open paths are served without a token.
var open = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware rejects requests without a matching bearer token. With no
// token configured every protected request is forbidden.
func Middleware(next http.Handler) http.Handler {
	token := os.Getenv(EnvToken)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if open[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// Expect: Authorization: Bearer <token>
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, "Bearer ") {
			http.Error(w, "missing API token", http.StatusUnauthorized)
			return
		}

		got := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			http.Error(w, "invalid API token", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
