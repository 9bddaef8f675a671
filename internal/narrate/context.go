package narrate

import "context"

type requestIDKey struct{}

// WithRequestID tags ctx with the correlation id of one bus request so
// downstream outcome records can carry it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the correlation id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
