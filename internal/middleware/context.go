package middleware

import "context"

type contextKey string

const userIDContextKey contextKey = "userID"

// WithUserID attaches the caller-supplied user id to ctx. The thin HTTP
// surface has no authentication layer of its own, and nothing in
// internal/httpapi calls WithUserID, so RateLimit falls back to the
// request's remote address there.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the user id set by WithUserID, or "" if none.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDContextKey).(string)
	return v
}
