package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"courier/cmd/internal/metrics"
)

// DefaultRemoteTimeout bounds one call to the issuer.
const DefaultRemoteTimeout = 10 * time.Second

const maxInfoBytes = 64 << 10

// RemoteVerifier asks the issuer's /info endpoint whether a token is valid.
// Any failure to get a clear yes (timeout, transport error, non-200, empty
// identity) is a rejection. There are no retries.
type RemoteVerifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// RemoteOption configures a RemoteVerifier.
type RemoteOption func(*RemoteVerifier)

// WithHTTPClient replaces the default client (e.g. custom TLS).
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(v *RemoteVerifier) {
		if c != nil {
			v.client = c
		}
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(v *RemoteVerifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithRemoteMetrics records call latency and outcomes.
func WithRemoteMetrics(m *metrics.Metrics) RemoteOption {
	return func(v *RemoteVerifier) { v.metrics = m }
}

// NewRemoteVerifier targets issuerURL + "/info". timeout <= 0 means DefaultRemoteTimeout.
func NewRemoteVerifier(issuerURL string, timeout time.Duration, opts ...RemoteOption) (*RemoteVerifier, error) {
	base, err := url.Parse(strings.TrimSpace(issuerURL))
	if err != nil {
		return nil, fmt.Errorf("auth: issuer url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("auth: issuer url must be http(s), got %q", issuerURL)
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}

	v := &RemoteVerifier{
		endpoint: base.JoinPath("info").String(),
		client:   &http.Client{},
		timeout:  timeout,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *RemoteVerifier) Verify(ctx context.Context, raw string) (Principal, error) {
	start := time.Now()
	p, err := v.verify(ctx, raw)
	v.metrics.RemoteVerifyLatency(time.Since(start))

	switch {
	case err == nil:
		v.metrics.Verification("remote", "ok")
	case errors.Is(err, ErrVerifierUnavailable):
		v.metrics.Verification("remote", "unavailable")
		v.log.Warn("auth.remote.unavailable", "endpoint", v.endpoint, "err", err, "elapsed", time.Since(start))
	default:
		v.metrics.Verification("remote", "rejected")
	}
	return p, err
}

func (v *RemoteVerifier) verify(ctx context.Context, raw string) (Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Principal{}, unavailable(err)
	}
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Principal{}, unavailable(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxInfoBytes))
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Principal{}, fmt.Errorf("%w: issuer rejected token (%d)", ErrInvalidToken, resp.StatusCode)
	default:
		return Principal{}, unavailable(fmt.Errorf("issuer status %d", resp.StatusCode))
	}

	var info Info
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInfoBytes)).Decode(&info); err != nil {
		return Principal{}, unavailable(fmt.Errorf("decode info: %w", err))
	}
	if info.ID == "" {
		return Principal{}, fmt.Errorf("%w: issuer returned no identity", ErrInvalidToken)
	}

	return Principal{ID: info.ID, Name: info.Username, ExpiresAt: info.ExpiresAt}, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrVerifierUnavailable, err)
}
