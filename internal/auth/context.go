package auth

import "context"

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated user id
func WithPrincipal(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, principalKey{}, userID)
}

// PrincipalFromContext returns the authenticated user id stored by the auth middleware
func PrincipalFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(principalKey{}).(string)
	return userID, ok && userID != ""
}
