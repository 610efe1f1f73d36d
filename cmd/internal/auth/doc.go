// Package auth is the gateway between inbound requests and token verification.
//
// It extracts a bearer token (header or query parameter), hands it to a
// Verifier and attaches the resulting Principal to the request context.
// Verifiers are swappable: the issuer verifies locally, a standalone hub calls
// the issuer over HTTP with a bounded timeout, and either can sit behind an
// expiring cache. Every failure fails closed.
package auth
