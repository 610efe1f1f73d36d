// Package password hashes and verifies account secrets with Argon2id.
//
// Hashes use the PHC string format so parameters travel with the hash and
// older hashes keep verifying after the defaults change. Decoding treats the
// hash as untrusted input and refuses parameters far above the configured cost.
package password
