package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"courier/cmd/internal/httpx"
	"courier/cmd/internal/metrics"
	"courier/cmd/security/token"
)

// Gateway authenticates HTTP requests.
type Gateway struct {
	verifier  Verifier
	queryKeys []string
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithQueryKeys overrides DefaultQueryKeys. Pass none to accept headers only.
func WithQueryKeys(keys ...string) GatewayOption {
	return func(g *Gateway) { g.queryKeys = keys }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// WithMetrics records verification outcomes.
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway builds a Gateway around v.
func NewGateway(v Verifier, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		verifier:  v,
		queryKeys: DefaultQueryKeys,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate resolves the request's principal. It returns ErrUnauthenticated
// when no token is present and an error wrapping ErrInvalidToken otherwise.
func (g *Gateway) Authenticate(r *http.Request) (Principal, error) {
	raw, ok := TokenFromRequest(r, g.queryKeys...)
	if !ok {
		g.metrics.Verification("gateway", "missing")
		return Principal{}, ErrUnauthenticated
	}

	p, err := g.verifier.Verify(r.Context(), raw)
	if err != nil {
		g.metrics.Verification("gateway", "rejected")
		g.log.Debug("auth.token.rejected",
			"path", r.URL.Path,
			"token", token.Fingerprint(raw)[:12],
			"err", err,
		)
		if !errors.Is(err, ErrInvalidToken) {
			err = errors.Join(ErrInvalidToken, err)
		}
		return Principal{}, err
	}
	if p.ID == "" {
		g.metrics.Verification("gateway", "rejected")
		return Principal{}, ErrInvalidToken
	}

	g.metrics.Verification("gateway", "ok")
	return p, nil
}

// Require rejects unauthenticated requests (403 no_token) and invalid tokens
// (401 unauthorized); otherwise the principal is attached to the context.
func (g *Gateway) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Authenticate(r)
		switch {
		case errors.Is(err, ErrUnauthenticated):
			httpx.WriteError(w, http.StatusForbidden, "no_token", "no token provided")
			return
		case err != nil:
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		raw, _ := TokenFromRequest(r, g.queryKeys...)
		ctx := WithPrincipal(r.Context(), p)
		ctx = withRawToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
