package logger

import "context"

type requestIDKey struct{}

// WithRequestID stores the request ID on the context. The HTTP request-ID
// middleware calls this once per request; the access logger reads it back so
// every log line of a request carries the same ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID from the context, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
