package core

import "context"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the session identifier. Tools that
// need to address session state read it back with SessionIDFromContext.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext extracts the session identifier placed by
// WithSessionID. The second return is false when none is present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}
