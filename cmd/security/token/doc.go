// Package token issues and verifies Courier access tokens.
//
// Tokens are HS256 JWTs carrying the account id and display name. They are
// self-contained: verification needs only the signing key and a clock, never
// the identity store. Rotating the key invalidates every outstanding token.
//
// Environment:
//   - COURIER_TOKEN_SIGNING_KEY: HMAC key, at least MinKeyBytes long.
package token
