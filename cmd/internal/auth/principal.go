package auth

import (
	"context"
	"time"
)

// Principal is the verified identity behind a request.
type Principal struct {
	ID        string
	Name      string
	ExpiresAt time.Time
}

// Info is the body of the issuer's token introspection endpoint. The remote
// verifier decodes the same shape.
type Info struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type principalCtxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey{}, p)
}

// PrincipalFrom returns the principal attached by Gateway.Require.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey{}).(Principal)
	return p, ok
}

type tokenCtxKey struct{}

func withRawToken(ctx context.Context, raw string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, raw)
}

// RawTokenFrom returns the token that authenticated the request.
func RawTokenFrom(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(tokenCtxKey{}).(string)
	return raw, ok && raw != ""
}
