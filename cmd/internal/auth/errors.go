package auth

import "errors"

var (
	// ErrUnauthenticated means the request carried no token at all.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidToken means a token was presented and rejected.
	ErrInvalidToken = errors.New("invalid token")
	// ErrVerifierUnavailable marks rejections caused by the verifier itself
	// (timeout, transport error, unexpected status) rather than by the token.
	// It always travels together with ErrInvalidToken.
	ErrVerifierUnavailable = errors.New("verifier unavailable")
)
