package logger

import "context"

// ctxKey keeps this package's context values from colliding with keys
// defined elsewhere.
type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request ID for downstream log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored in ctx, or an empty string.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
