package mcp

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware guards the MCP endpoint with a static bearer key. An empty
// key disables the check entirely; agent clients on a trusted network run
// without credentials. A bare key without the "Bearer " prefix is accepted
// for clients that cannot set a scheme.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			http.Error(w, "invalid credentials", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
