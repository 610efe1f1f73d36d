package authapi

import "time"

// Config controls issuer API behavior.
type Config struct {
	MaxBodyBytes int64
	TrustProxy   bool

	// LoginFailuresMax failed logins from one client IP within
	// LoginFailuresWindow trigger a 429. Zero disables throttling.
	LoginFailuresMax    int
	LoginFailuresWindow time.Duration
}

// DefaultConfig returns the baseline used when the app config leaves fields unset.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:        64 << 10,
		LoginFailuresMax:    20,
		LoginFailuresWindow: 5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.LoginFailuresWindow <= 0 {
		c.LoginFailuresWindow = def.LoginFailuresWindow
	}
	if c.LoginFailuresMax < 0 {
		c.LoginFailuresMax = 0
	}
	return c
}
