package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrPersistence        = errors.New("persistence_failure")
)

// ErrDuplicate is the kind returned when a name is already registered.
var ErrDuplicate = ErrConflict
