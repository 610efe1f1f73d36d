package token

import "errors"

// Verification failures. Every error returned by Verify wraps exactly one of
// ErrExpired, ErrInvalidSignature or ErrMalformed.
var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformed        = errors.New("token malformed")
)

// Key errors.
var (
	ErrKeyMissing  = errors.New("token signing key missing")
	ErrKeyTooShort = errors.New("token signing key too short")
)

// IsInvalid reports whether err is any verification failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformed)
}
