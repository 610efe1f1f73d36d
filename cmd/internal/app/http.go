package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authapi "courier/cmd/internal/auth/api"
	"courier/cmd/internal/metrics"
	"courier/cmd/internal/realtime"
)

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After", "WWW-Authenticate"},
		MaxAge:         300,
	}
}

func baseRouter(log *slog.Logger, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(WithRequestLogging(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// newIssuerRouter serves /register, /login and /info.
func newIssuerRouter(log *slog.Logger, m *metrics.Metrics, cfg Config, h *authapi.Handler) http.Handler {
	r := baseRouter(log, m)
	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(corsOptions(cfg.CORSAllowedOrigins)))
		r.Use(WithSecurityHeaders)
		h.Routes(r)
	})
	return r
}

// newHubRouter serves the /chat websocket endpoint.
func newHubRouter(log *slog.Logger, m *metrics.Metrics, gw *realtime.WSGateway) http.Handler {
	r := baseRouter(log, m)
	r.Get("/chat", gw.HandleWS)
	return r
}
