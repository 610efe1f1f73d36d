// Package app wires the courier runtime: config, logging, HTTP routers, the
// realtime hub, and the shutdown sequence.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"courier/cmd/identity"
	"courier/cmd/internal/auth"
	authapi "courier/cmd/internal/auth/api"
	"courier/cmd/internal/metrics"
	"courier/cmd/internal/realtime"
	"courier/cmd/security/password"
	"courier/cmd/security/token"
)

// Mode selects which services a process runs.
type Mode string

const (
	ModeIssuer Mode = "issuer"
	ModeHub    Mode = "hub"
	// ModeAll runs both services in one process; the hub verifies tokens
	// locally with the shared signing key.
	ModeAll Mode = "all"
)

func (m Mode) runsIssuer() bool { return m == ModeIssuer || m == ModeAll }
func (m Mode) runsHub() bool    { return m == ModeHub || m == ModeAll }

type server struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

// App owns the services of one process and their shutdown.
type App struct {
	cfg     Config
	log     *slog.Logger
	mode    Mode
	metrics *metrics.Metrics

	store    *identity.Store
	tokens   *token.Service
	registry *realtime.Registry

	issuerHandler http.Handler
	hubHandler    http.Handler

	servers []*server
	coord   *Coordinator
}

// New wires every component mode needs. It does not bind any socket.
func New(cfg Config, log *slog.Logger, mode Mode) (*App, error) {
	if log == nil {
		log = NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	}
	if !mode.runsIssuer() && !mode.runsHub() {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	m := metrics.New()
	a := &App{
		cfg:     cfg,
		log:     log,
		mode:    mode,
		metrics: m,
		coord:   NewCoordinator(log, cfg.ShutdownTimeout, m),
	}

	if mode.runsIssuer() {
		if err := a.wireIssuer(); err != nil {
			return nil, err
		}
	}
	if mode.runsHub() {
		if err := a.wireHub(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) wireIssuer() error {
	pwCfg, err := password.FromEnv()
	if err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	key, err := signingKey(a.cfg, a.log)
	if err != nil {
		return err
	}
	a.tokens, err = token.NewService(key, token.WithTTL(a.cfg.TokenTTL), token.WithIssuer(a.cfg.TokenIssuer))
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	a.log.Info("token.key.ready", "fingerprint", token.Fingerprint(string(key))[:12], "ttl", a.cfg.TokenTTL.String())

	a.store = identity.LoadStore(a.log, a.cfg.SnapshotPath, identity.WithPasswordConfig(pwCfg))

	gateway := auth.NewGateway(auth.NewLocalVerifier(a.tokens), auth.WithLogger(a.log), auth.WithMetrics(a.metrics))
	handler, err := authapi.NewHandler(a.log, authapi.Config{
		TrustProxy:          a.cfg.TrustProxy,
		LoginFailuresMax:    a.cfg.LoginFailuresMax,
		LoginFailuresWindow: a.cfg.LoginFailuresWindow,
	}, a.store, a.tokens, gateway, authapi.WithMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.issuerHandler = newIssuerRouter(a.log, a.metrics, a.cfg, handler)

	if a.cfg.SnapshotPath != "" {
		a.coord.AddPersister(identity.SnapshotFile{Path: a.cfg.SnapshotPath, Store: a.store})
	}
	a.addServer("issuer", a.cfg.IssuerAddr, a.issuerHandler)
	return nil
}

func (a *App) wireHub() error {
	verifier, err := a.hubVerifier()
	if err != nil {
		return err
	}

	a.registry = realtime.NewRegistry(a.log, realtime.WithRegistryMetrics(a.metrics))
	hub := realtime.NewHub(a.log, a.registry, a.metrics)
	gw := realtime.NewWSGateway(a.log,
		auth.NewGateway(verifier, auth.WithLogger(a.log), auth.WithMetrics(a.metrics)),
		hub,
		realtime.GatewayConfig{
			AllowedOrigins:     a.cfg.WSAllowedOrigins,
			InsecureSkipVerify: a.cfg.WSInsecureSkipVerify,
			WriteTimeout:       a.cfg.WSWriteTimeout,
			ReadIdleTimeout:    a.cfg.WSReadIdleTimeout,
			SendQueueSize:      a.cfg.WSSendQueue,
			HeartbeatInterval:  a.cfg.WSHeartbeatInterval,
			HeartbeatTimeout:   a.cfg.WSHeartbeatTimeout,
			RateEvents:         a.cfg.WSRateEvents,
			RateWindow:         a.cfg.WSRateWindow,
		},
		a.metrics,
	)
	a.hubHandler = newHubRouter(a.log, a.metrics, gw)

	a.coord.AddDrainer(a.registry)
	a.addServer("hub", a.cfg.HubAddr, a.hubHandler)
	return nil
}

// hubVerifier checks tokens in-process when the issuer shares this process,
// and otherwise asks the issuer's /info endpoint.
func (a *App) hubVerifier() (auth.Verifier, error) {
	if a.tokens != nil {
		return auth.NewLocalVerifier(a.tokens), nil
	}

	remote, err := auth.NewRemoteVerifier(a.cfg.IssuerURL, a.cfg.VerifyTimeout,
		auth.WithRemoteLogger(a.log),
		auth.WithRemoteMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("remote verifier: %w", err)
	}
	a.log.Info("hub.verifier.remote", "issuer_url", a.cfg.IssuerURL, "timeout", a.cfg.VerifyTimeout.String())

	if a.cfg.VerifyCacheTTL <= 0 {
		return remote, nil
	}
	return auth.NewCachedVerifier(remote, a.cfg.VerifyCacheSize, a.cfg.VerifyCacheTTL, a.metrics), nil
}

func (a *App) addServer(name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, defaultReadHeaderTimeout),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, defaultReadTimeout),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, defaultWriteTimeout),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, defaultIdleTimeout),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		ErrorLog:          slog.NewLogLogger(a.log.Handler(), slog.LevelWarn),
	}
	a.servers = append(a.servers, &server{name: name, srv: srv})
	a.coord.AddServer(srv)
}

// Coordinator exposes the shutdown sequence.
func (a *App) Coordinator() *Coordinator { return a.coord }

// Listen binds every server's address. Run calls it when needed.
func (a *App) Listen() error {
	for _, s := range a.servers {
		if s.ln != nil {
			continue
		}
		ln, err := net.Listen("tcp", s.srv.Addr)
		if err != nil {
			a.closeListeners()
			return fmt.Errorf("%s listen %s: %w", s.name, s.srv.Addr, err)
		}
		s.ln = ln
	}
	return nil
}

// Addr returns the bound address of the named server ("issuer" or "hub").
func (a *App) Addr(name string) string {
	for _, s := range a.servers {
		if s.name == name && s.ln != nil {
			return s.ln.Addr().String()
		}
	}
	return ""
}

// Run serves until the first signal on sigs or ctx cancellation, then runs the
// shutdown sequence. It returns nil after a clean shutdown, even when the
// snapshot could not be written.
func (a *App) Run(ctx context.Context, sigs <-chan os.Signal) error {
	if err := a.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, len(a.servers))
	for _, s := range a.servers {
		a.log.Info("server.start", "name", s.name, "addr", s.ln.Addr().String(), "mode", string(a.mode))
		go func() {
			if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s serve: %w", s.name, err)
			}
		}()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.coord.Watch(watchCtx, sigs)

	var runErr error
	select {
	case <-a.coord.Done():
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	_ = a.coord.Shutdown(context.WithoutCancel(ctx))
	a.log.Info("server.stopped", "state", a.coord.State().String())
	return runErr
}

func (a *App) closeListeners() {
	for _, s := range a.servers {
		if s.ln != nil {
			_ = s.ln.Close()
			s.ln = nil
		}
	}
}
