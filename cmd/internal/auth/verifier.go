package auth

import (
	"context"
	"fmt"

	"courier/cmd/security/token"
)

//go:generate mockgen -destination=authmock/verifier_mock.go -package=authmock courier/cmd/internal/auth Verifier

// Verifier turns a raw token into a Principal. Rejections wrap ErrInvalidToken.
type Verifier interface {
	Verify(ctx context.Context, raw string) (Principal, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, raw string) (Principal, error)

func (f VerifierFunc) Verify(ctx context.Context, raw string) (Principal, error) { return f(ctx, raw) }

// TokenVerifier is the subset of token.Service used for local verification.
type TokenVerifier interface {
	Verify(raw string) (token.Claims, error)
}

// LocalVerifier checks tokens in-process with the signing key.
type LocalVerifier struct {
	tokens TokenVerifier
}

// NewLocalVerifier wraps a token verifier.
func NewLocalVerifier(tokens TokenVerifier) *LocalVerifier {
	return &LocalVerifier{tokens: tokens}
}

func (v *LocalVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, err := v.tokens.Verify(raw)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return Principal{
		ID:        claims.UserID,
		Name:      claims.Username,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}
