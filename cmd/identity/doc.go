// Package identity holds Courier's account registry.
//
// Accounts live in memory behind a single lock. The full set is loaded from a
// snapshot file at startup and written back (atomically) on graceful shutdown;
// nothing is persisted between those two points.
//
// Credential secrets are stored as Argon2id PHC strings (see cmd/security/password),
// so a snapshot never contains plaintext secrets.
package identity
