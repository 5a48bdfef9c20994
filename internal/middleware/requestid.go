// Package middleware provides HTTP middleware for PromptDeck.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/logger"
)

const headerRequestID = "X-Request-ID"

// maxInboundIDLen bounds caller-supplied request IDs. The ID lands in
// every log line for the request, so oversized junk is replaced rather
// than carried through.
const maxInboundIDLen = 64

// RequestID propagates the caller's X-Request-ID or mints a UUID when
// the header is absent or unusable. The ID is stored in the context for
// log correlation and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxInboundIDLen {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
