// Package remote contains clients for the catalog and identity services.
package remote

import "context"

type tokenKey struct{}

// ContextWithToken returns a context carrying the caller's session token,
// forwarded on calls to other services.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the session token stored in ctx, if any.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
