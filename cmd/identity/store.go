package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"courier/cmd/identity/ids"
	"courier/cmd/security/password"
)

// Identity is a registered account.
// Secret is the Argon2id PHC encoding of the credential, never the plaintext.
type Identity struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"username" yaml:"username"`
	Secret    string    `json:"secret" yaml:"secret"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Store is the in-memory account registry. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	list   []Identity
	byID   map[string]int
	byName map[string]int

	hasher password.Config
	now    func() time.Time

	dummyOnce sync.Once
	dummy     string
}

// Option configures a Store.
type Option func(*Store)

// WithPasswordConfig sets the hashing parameters and secret policy.
func WithPasswordConfig(cfg password.Config) Option {
	return func(s *Store) { s.hasher = cfg }
}

// WithClock overrides the time source used for CreatedAt and ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:   make(map[string]int),
		byName: make(map[string]int),
		hasher: password.DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new identity. Names are unique after NormalizeName.
func (s *Store) Register(ctx context.Context, name, secret string) (Identity, error) {
	const op = "identity.Register"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	key := NormalizeName(name)
	if key == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "name is required"}
	}
	if secret == "" {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "secret is required"}
	}

	// Fast path: skip the expensive hash for names that are obviously taken.
	s.mu.RLock()
	_, taken := s.byName[key]
	s.mu.RUnlock()
	if taken {
		return Identity{}, ConflictError{Op: op, Field: "name"}
	}

	hash, err := s.hasher.Hash(secret)
	if err != nil {
		if isPolicyErr(err) {
			return Identity{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
		}
		return Identity{}, fmt.Errorf("%s: hash secret: %w", op, err)
	}

	now := s.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: new id: %w", op, err)
	}

	ident := Identity{
		ID:        id,
		Name:      DisplayName(name),
		Secret:    hash,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the write lock: two registrations may have hashed concurrently.
	if _, ok := s.byName[key]; ok {
		return Identity{}, ConflictError{Op: op, Field: "name"}
	}

	s.list = append(s.list, ident)
	idx := len(s.list) - 1
	s.byID[ident.ID] = idx
	s.byName[key] = idx

	return ident, nil
}

// Authenticate returns the identity whose name and secret match.
// Unknown names and wrong secrets fail with the same ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, name, secret string) (Identity, error) {
	const op = "identity.Authenticate"

	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	s.mu.RLock()
	idx, ok := s.byName[NormalizeName(name)]
	var ident Identity
	if ok {
		ident = s.list[idx]
	}
	s.mu.RUnlock()

	if !ok {
		// Spend the same hashing work as a real check.
		_, _ = s.hasher.Verify(s.dummyHash(), secret)
		return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	match, err := s.hasher.Verify(ident.Secret, secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: verify stored secret for %s: %w", op, ident.ID, err)
	}
	if !match {
		return Identity{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return ident, nil
}

// Lookup returns the identity with the given id.
func (s *Store) Lookup(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return Identity{}, OpError{Op: "identity.Lookup", Kind: ErrNotFound}
	}
	return s.list[idx], nil
}

// Len returns the number of registered identities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

// Snapshot returns every identity in registration order.
func (s *Store) Snapshot() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Identity, len(s.list))
	copy(out, s.list)
	return out
}

// Restore replaces the store contents. It is meant for startup, before the
// store is shared. On error the store is left unchanged.
func (s *Store) Restore(identities []Identity) error {
	const op = "identity.Restore"

	list := make([]Identity, 0, len(identities))
	byID := make(map[string]int, len(identities))
	byName := make(map[string]int, len(identities))

	for i, ident := range identities {
		key := NormalizeName(ident.Name)
		switch {
		case ident.ID == "":
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("record %d: missing id", i)}
		case key == "":
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("record %d: missing name", i)}
		case ident.Secret == "":
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: fmt.Sprintf("record %d: missing secret", i)}
		}
		if _, dup := byID[ident.ID]; dup {
			return ConflictError{Op: op, Field: "id"}
		}
		if _, dup := byName[key]; dup {
			return ConflictError{Op: op, Field: "name"}
		}

		ident.Name = DisplayName(ident.Name)
		list = append(list, ident)
		byID[ident.ID] = len(list) - 1
		byName[key] = len(list) - 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = list
	s.byID = byID
	s.byName = byName
	return nil
}

func (s *Store) dummyHash() string {
	s.dummyOnce.Do(func() {
		cfg := s.hasher
		cfg.Policy.MinLength = 0
		h, err := cfg.Hash("courier-dummy-secret")
		if err == nil {
			s.dummy = h
		}
	})
	return s.dummy
}

func isPolicyErr(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}
