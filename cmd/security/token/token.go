package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

// DefaultIssuer is the iss claim stamped on tokens.
const DefaultIssuer = "courier"

// Token is a freshly issued access token.
type Token struct {
	Raw       string
	Subject   string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Username  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// jwtClaims is the wire form: userId and username sit next to the registered claims.
type jwtClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with a symmetric key.
type Service struct {
	key    []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIssuer overrides DefaultIssuer.
func WithIssuer(iss string) Option {
	return func(s *Service) {
		if iss != "" {
			s.issuer = iss
		}
	}
}

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a Service. key must satisfy ParseKey's length rule.
func NewService(key []byte, opts ...Option) (*Service, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}

	s := &Service{
		key:    append([]byte(nil), key...),
		ttl:    DefaultTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for the given account.
func (s *Service) Issue(subjectID, name string) (Token, error) {
	if subjectID == "" {
		return Token{}, errors.New("token.Issue: empty subject")
	}

	// JWT NumericDate has second precision; truncate so Token matches what Verify returns.
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.ttl)

	claims := jwtClaims{
		UserID:   subjectID,
		Username: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("token.Issue: sign: %w", err)
	}

	return Token{
		Raw:       raw,
		Subject:   subjectID,
		Name:      name,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks signature, issuer and expiry. The signature is checked first,
// so a tampered token never reports ErrExpired.
func (s *Service) Verify(raw string) (Claims, error) {
	var claims jwtClaims
	_, err := jwt.ParseWithClaims(raw, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, classify(err)
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return Claims{}, fmt.Errorf("%w: subject mismatch", ErrMalformed)
	}

	out := Claims{
		UserID:   claims.UserID,
		Username: claims.Username,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return out, nil
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return s.key, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}
