package password

import (
	"fmt"
	"runtime"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every variable read by FromEnv.
const EnvPrefix = "COURIER"

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted secrets.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a minimal weak-pattern check.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// envSpec mirrors Config for envconfig. Zero values mean "keep the default".
type envSpec struct {
	MinLength      int    `envconfig:"PASSWORD_MIN_LEN"`
	MaxLength      int    `envconfig:"PASSWORD_MAX_LEN"`
	RejectVeryWeak bool   `envconfig:"PASSWORD_REJECT_VERY_WEAK"`
	MemoryKiB      uint32 `envconfig:"ARGON2_MEMORY_KIB"`
	Iterations     uint32 `envconfig:"ARGON2_ITERATIONS"`
	Parallelism    uint8  `envconfig:"ARGON2_PARALLELISM"`
	SaltLength     uint32 `envconfig:"ARGON2_SALT_LEN"`
	KeyLength      uint32 `envconfig:"ARGON2_KEY_LEN"`
}

// DefaultConfig returns the interactive-login baseline: 64 MiB, 3 passes.
func DefaultConfig() Config {
	// Parallelism follows the host but stays within [1..4] for predictable container usage.
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 256,
		},
	}
}

// FromEnv loads DefaultConfig and applies overrides:
//
//	COURIER_PASSWORD_MIN_LEN, COURIER_PASSWORD_MAX_LEN, COURIER_PASSWORD_REJECT_VERY_WEAK,
//	COURIER_ARGON2_MEMORY_KIB, COURIER_ARGON2_ITERATIONS, COURIER_ARGON2_PARALLELISM,
//	COURIER_ARGON2_SALT_LEN, COURIER_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	var spec envSpec
	if err := envconfig.Process(EnvPrefix, &spec); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()
	checks := []struct {
		name     string
		val      uint64
		min, max uint64
		apply    func()
	}{
		{"PASSWORD_MIN_LEN", uint64(max(spec.MinLength, 0)), 1, 1024, func() { cfg.Policy.MinLength = spec.MinLength }},
		{"PASSWORD_MAX_LEN", uint64(max(spec.MaxLength, 0)), 1, 4096, func() { cfg.Policy.MaxLength = spec.MaxLength }},
		{"ARGON2_MEMORY_KIB", uint64(spec.MemoryKiB), 8 * 1024, 1024 * 1024, func() { cfg.Params.MemoryKiB = spec.MemoryKiB }},
		{"ARGON2_ITERATIONS", uint64(spec.Iterations), 1, 20, func() { cfg.Params.Iterations = spec.Iterations }},
		{"ARGON2_PARALLELISM", uint64(spec.Parallelism), 1, 64, func() { cfg.Params.Parallelism = spec.Parallelism }},
		{"ARGON2_SALT_LEN", uint64(spec.SaltLength), 8, 64, func() { cfg.Params.SaltLength = spec.SaltLength }},
		{"ARGON2_KEY_LEN", uint64(spec.KeyLength), 16, 64, func() { cfg.Params.KeyLength = spec.KeyLength }},
	}
	for _, c := range checks {
		if c.val == 0 {
			continue
		}
		if c.val < c.min || c.val > c.max {
			return Config{}, fmt.Errorf("%w: %s_%s out of range [%d..%d]", ErrInvalidConfig, EnvPrefix, c.name, c.min, c.max)
		}
		c.apply()
	}
	if spec.MinLength < 0 || spec.MaxLength < 0 {
		return Config{}, fmt.Errorf("%w: negative length bound", ErrInvalidConfig)
	}
	cfg.Policy.RejectVeryWeak = spec.RejectVeryWeak

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"%w: min_len(%d) > max_len(%d)",
			ErrInvalidConfig,
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}
	return cfg, nil
}
