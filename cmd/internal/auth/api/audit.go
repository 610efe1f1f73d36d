package authapi

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Audit events go to the structured log under the "audit" group.

func (h *Handler) auditRegistered(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.register.success", ip, ua, slog.String("user_id", userID))
}

func (h *Handler) auditRegisterConflict(ctx context.Context, ip net.IP, ua string) {
	h.audit(ctx, "auth.register.conflict", ip, ua)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.login.success", ip, ua, slog.String("user_id", userID))
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua string, reason string) {
	h.audit(ctx, "auth.login.failed", ip, ua, slog.String("reason", reason))
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, ip net.IP, ua string, retryAfter time.Duration) {
	h.audit(ctx, "auth.login.rate_limited", ip, ua, slog.Int64("retry_after_s", int64(retryAfter.Seconds())))
}

func (h *Handler) audit(ctx context.Context, action string, ip net.IP, ua string, attrs ...slog.Attr) {
	base := []any{slog.String("action", action), slog.String("user_agent", ua)}
	if ip != nil {
		base = append(base, slog.String("ip", ip.String()))
	}
	for _, a := range attrs {
		base = append(base, a)
	}
	h.log.InfoContext(ctx, "audit", slog.Group("audit", base...))
}
