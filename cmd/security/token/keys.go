package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// KeyEnv is the env var holding the HMAC signing key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "COURIER_TOKEN_SIGNING_KEY"

	// MinKeyBytes is the shortest accepted signing key (HS256 block size / 2).
	MinKeyBytes = 32
)

// KeyFromEnv returns the configured signing key (trimmed).
func KeyFromEnv() ([]byte, error) {
	return ParseKey(os.Getenv(KeyEnv))
}

// ParseKey validates a raw signing key.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	if len(raw) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	return []byte(raw), nil
}

// RandomKey returns a fresh key for single-process runs. Tokens signed with it
// die with the process.
func RandomKey() ([]byte, error) {
	b := make([]byte, MinKeyBytes*2)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Fingerprint returns a short, non-reversible identifier for a token, suitable
// for cache keys and logs.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
