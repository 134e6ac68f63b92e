package domain

import "context"

type securityContextKey struct{}

// WithSecurityContext stores the request's security context, the claims
// that access policies and row filters are evaluated against.
func WithSecurityContext(ctx context.Context, sc map[string]any) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityContextFromContext returns the security context stored in ctx.
// A request without one evaluates against an empty context.
func SecurityContextFromContext(ctx context.Context) (map[string]any, bool) {
	sc, ok := ctx.Value(securityContextKey{}).(map[string]any)
	return sc, ok
}
