package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"courier/cmd/internal/metrics"
	"courier/cmd/security/token"
)

// CachedVerifier remembers positive verifications for at most ttl, and never
// past the token's own expiry. Rejections are not cached.
type CachedVerifier struct {
	next    Verifier
	cache   *expirable.LRU[string, Principal]
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewCachedVerifier wraps next. size <= 0 defaults to 1024 entries.
func NewCachedVerifier(next Verifier, size int, ttl time.Duration, m *metrics.Metrics) *CachedVerifier {
	if size <= 0 {
		size = 1024
	}
	return &CachedVerifier{
		next:    next,
		cache:   expirable.NewLRU[string, Principal](size, nil, ttl),
		now:     time.Now,
		metrics: m,
	}
}

func (v *CachedVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	key := token.Fingerprint(raw)

	if p, ok := v.cache.Get(key); ok {
		if v.now().Before(p.ExpiresAt) {
			v.metrics.Verification("cache", "hit")
			return p, nil
		}
		v.cache.Remove(key)
	}
	v.metrics.Verification("cache", "miss")

	p, err := v.next.Verify(ctx, raw)
	if err != nil {
		return Principal{}, err
	}
	if !p.ExpiresAt.IsZero() && v.now().Before(p.ExpiresAt) {
		v.cache.Add(key, p)
	}
	return p, nil
}

// Len reports the number of cached entries.
func (v *CachedVerifier) Len() int { return v.cache.Len() }
