package realtime

import "errors"

var (
	// ErrAlreadyConnected rejects a second live session for one identity.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrDraining rejects admissions once shutdown has begun.
	ErrDraining = errors.New("registry draining")
	// ErrMalformedMessage reports an inbound frame without a "message" field
	// or that is not JSON at all.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrClientClosed is returned by Deliver after the session shut down.
	ErrClientClosed = errors.New("client closed")
	// ErrBackpressure is returned by Deliver when the outbound queue is full.
	ErrBackpressure = errors.New("send queue full")
)
