package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcVersion = argon2.Version // 0x13

var b64 = base64.RawStdEncoding

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		p.params.MemoryKiB,
		p.params.Iterations,
		p.params.Parallelism,
		b64.EncodeToString(p.salt),
		b64.EncodeToString(p.key),
	)
}

// Hash validates password against the policy and returns its PHC encoding.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	h := phc{params: c.Params, salt: salt}
	h.key = derive(password, h.params, salt, c.Params.KeyLength)
	return h.String(), nil
}

// Verify reports whether password matches encoded.
// A malformed hash, or one whose cost is far above the configured params, yields ErrInvalidHash.
func (c Config) Verify(encoded, password string) (bool, error) {
	h, err := decode(encoded)
	if err != nil {
		return false, err
	}
	if !withinBounds(h.params, c.Params) {
		return false, ErrInvalidHash
	}

	got := derive(password, h.params, h.salt, h.params.KeyLength)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with different params than c.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := decode(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB != c.Params.MemoryKiB ||
		p.Iterations != c.Params.Iterations ||
		p.Parallelism != c.Params.Parallelism ||
		p.KeyLength != c.Params.KeyLength
}

func derive(password string, p Argon2idParams, salt []byte, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen)
}

// withinBounds accepts older or cheaper hashes but refuses attacker-sized ones.
func withinBounds(got, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case uint32(got.Parallelism) > uint32(limits.Parallelism)*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", phcVersion) {
		return phc{}, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: uint8(par),       // #nosec G115 -- bounded to 255 above.
			SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 segment of a bounded string.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- base64 segment of a bounded string.
		},
		salt: salt,
		key:  key,
	}, nil
}
