package app

import (
	"errors"
	"fmt"
	"log/slog"

	"courier/cmd/security/token"
)

// signingKey resolves the token signing key. Without a configured key it
// falls back to a random per-process key, unless cfg.RequireSigningKey is set.
func signingKey(cfg Config, log *slog.Logger) ([]byte, error) {
	key, err := token.ParseKey(cfg.TokenSigningKey)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, token.ErrKeyTooShort):
		return nil, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.KeyEnv, token.MinKeyBytes)
	case errors.Is(err, token.ErrKeyMissing) && cfg.RequireSigningKey:
		return nil, fmt.Errorf("security policy: %s_REQUIRE_SIGNING_KEY=true but %s is missing", EnvPrefix, token.KeyEnv)
	case errors.Is(err, token.ErrKeyMissing):
		log.Warn("token.key.random", "hint", "set "+token.KeyEnv+" so tokens survive restarts and the hub can share the key")
		return token.RandomKey()
	default:
		return nil, err
	}
}
