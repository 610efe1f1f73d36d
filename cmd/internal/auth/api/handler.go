// Package authapi is the issuer's HTTP surface: register, login and token
// introspection.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"courier/cmd/identity"
	"courier/cmd/internal/auth"
	"courier/cmd/internal/httpx"
	"courier/cmd/internal/metrics"
	"courier/cmd/security/token"
)

// IdentityStore is the account registry used by the handlers.
type IdentityStore interface {
	Register(ctx context.Context, name, secret string) (identity.Identity, error)
	Authenticate(ctx context.Context, name, secret string) (identity.Identity, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(subjectID, name string) (token.Token, error)
}

// Handler wires HTTP auth endpoints to the identity store and token service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	store    IdentityStore
	tokens   TokenIssuer
	gateway  *auth.Gateway
	validate *validator.Validate
	throttle *loginThrottle
	metrics  *metrics.Metrics
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithMetrics records registration and login outcomes.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler constructs a Handler. gateway guards /info.
func NewHandler(log *slog.Logger, cfg Config, store IdentityStore, tokens TokenIssuer, gateway *auth.Gateway, opts ...HandlerOption) (*Handler, error) {
	if store == nil || tokens == nil || gateway == nil {
		return nil, errors.New("authapi: store, tokens and gateway are required")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)

	h := &Handler{
		log:      log,
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		gateway:  gateway,
		validate: v,
		throttle: newLoginThrottle(cfg.LoginFailuresMax, cfg.LoginFailuresWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes mounts the issuer endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	r.With(h.gateway.Require).Get("/info", h.handleInfo)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		h.metrics.Registration("invalid")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	ident, err := h.store.Register(ctx, req.Username, req.Password)
	switch {
	case err == nil:
	case identity.IsConflict(err):
		h.metrics.Registration("conflict")
		h.auditRegisterConflict(ctx, ip, ua)
		httpx.WriteError(w, http.StatusConflict, "name_taken", "username already exists")
		return
	case identity.IsInvalidInput(err):
		h.metrics.Registration("invalid")
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", publicInputMessage(err))
		return
	default:
		h.metrics.Registration("error")
		h.log.Error("auth.register.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	tok, ok := h.issue(w, ident)
	if !ok {
		return
	}

	h.metrics.Registration("ok")
	h.auditRegistered(ctx, ident.ID, ip, ua)
	httpx.WriteJSON(w, http.StatusCreated, tok)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter := h.throttle.blocked(ip); blocked {
		h.metrics.Login("rate_limited")
		h.auditLoginRateLimited(ctx, ip, ua, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := h.decodeCredentials(w, r)
	if !ok {
		h.metrics.Login("invalid")
		return
	}

	ident, err := h.store.Authenticate(ctx, req.Username, req.Password)
	switch {
	case err == nil:
	case identity.IsInvalidCredentials(err):
		h.throttle.fail(ip)
		h.metrics.Login("invalid_credentials")
		h.auditLoginFailed(ctx, ip, ua, "invalid_credentials")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	default:
		h.metrics.Login("error")
		h.log.Error("auth.login.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	tok, ok := h.issue(w, ident)
	if !ok {
		return
	}

	h.throttle.reset(ip)
	h.metrics.Login("ok")
	h.auditLoginSuccess(ctx, ident.ID, ip, ua)
	httpx.WriteJSON(w, http.StatusOK, tok)
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	raw, _ := auth.RawTokenFrom(r.Context())

	httpx.WriteJSON(w, http.StatusOK, auth.Info{
		ID:        p.ID,
		Username:  p.Name,
		Token:     raw,
		ExpiresAt: p.ExpiresAt,
	})
}

func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return credentialsRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return credentialsRequest{}, false
	}
	return req, true
}

func (h *Handler) issue(w http.ResponseWriter, ident identity.Identity) (tokenResponse, bool) {
	tok, err := h.tokens.Issue(ident.ID, ident.Name)
	if err != nil {
		h.log.Error("auth.token.issue_fail", "user_id", ident.ID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return tokenResponse{}, false
	}
	return tokenResponse{Token: tok.Raw, ExpiresAt: tok.ExpiresAt}, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// publicInputMessage strips the operation prefix from identity input errors.
func publicInputMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid request"
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseForwardedIP(raw string) net.IP {
	for p := range strings.SplitSeq(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
