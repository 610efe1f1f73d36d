package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/metrics"
	v1 "courier/contracts/realtime/v1"
)

// Authenticator resolves the principal of a handshake request.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

// GatewayConfig holds the per-connection knobs of the websocket gateway.
type GatewayConfig struct {
	// AllowedOrigins lists browser origins allowed to connect cross-origin.
	// "*" allows any origin.
	AllowedOrigins []string
	// InsecureSkipVerify disables the origin check entirely (development only).
	InsecureSkipVerify bool

	WriteTimeout time.Duration
	// ReadIdleTimeout closes sessions that send nothing for this long.
	// Zero disables it; heartbeats still detect dead peers.
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the gateway defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    []string{"*"},
		WriteTimeout:      defaultWriteTimeout,
		SendQueueSize:     defaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	return c
}

// WSGateway is the websocket entrypoint of the hub.
//
// It authenticates the handshake, admits the session into the registry, and
// runs the writer, heartbeat and read loops until either side closes.
type WSGateway struct {
	log     *slog.Logger
	authn   Authenticator
	hub     *Hub
	reg     *Registry
	metrics *metrics.Metrics

	cfg            GatewayConfig
	originPatterns []string
}

// NewWSGateway wires a gateway. m may be nil.
func NewWSGateway(log *slog.Logger, authn Authenticator, hub *Hub, cfg GatewayConfig, m *metrics.Metrics) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		authn:          authn,
		hub:            hub,
		reg:            hub.Registry(),
		metrics:        m,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the request, upgrades it and runs the session.
//
// Rejections happen after the upgrade so browser clients can read the close
// code: 4401 missing token, 4403 invalid token, 4409 already connected,
// 1001 while the hub is draining.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	principal, authErr := g.authn.Authenticate(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Info("ws.accept.fail", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "err", err)
		g.metrics.HandshakeReject("accept")
		return
	}

	if authErr != nil {
		code, reason, label := classifyAuthErr(authErr)
		g.log.Info("ws.reject.token", "remote", r.RemoteAddr, "reason", label, "err", authErr)
		g.metrics.HandshakeReject(label)
		_ = conn.Close(code, reason)
		return
	}

	connID := uuid.NewString()
	client := NewClient(connID, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. The registry slot is released before the close
	// handshake so a reconnect is never refused by a session that is already gone.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if g.reg.ReleaseConn(principal.ID, connID) {
				g.log.Info("ws.session.release", "user_id", principal.ID, "conn_id", connID, "reason", reason)
			}
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}
	client.OnShutdown(func(reason string) {
		shutdown(websocket.StatusGoingAway, reason)
	})

	sess, err := g.reg.Admit(principal.ID, principal.Name, connID, client)
	if err != nil {
		code, reason, label := websocket.StatusCode(v1.CloseAlreadyConnected), v1.ReasonAlreadyConnected, "already_connected"
		if errors.Is(err, ErrDraining) {
			code, reason, label = websocket.StatusGoingAway, v1.ReasonShuttingDown, "draining"
		}
		g.log.Info("ws.reject.admit", "user_id", principal.ID, "reason", label)
		g.metrics.HandshakeReject(label)
		client.Close()
		_ = conn.Close(code, reason)
		return
	}

	g.log.Info("ws.session.admit", "user_id", sess.IdentityID, "username", sess.Name, "conn_id", connID)

	conn.SetReadLimit(maxFrameBytes)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, client, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeatLoop(ctx, conn, client, shutdown)
	}()

	g.readLoop(ctx, conn, client, sess, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

type shutdownFunc func(code websocket.StatusCode, reason string)

func (g *WSGateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown shutdownFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case frame := <-client.Queue():
			if err := writeFrame(ctx, conn, frame, g.cfg.WriteTimeout); err != nil {
				g.log.Info("ws.write.fail", "conn_id", client.ConnID, "close_status", websocket.CloseStatus(err), "err", err)
				shutdown(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (g *WSGateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown shutdownFunc) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", client.ConnID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, sess *Session, shutdown shutdownFunc) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		data, err := g.read(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusInternalError, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", client.ConnID, "err", err)
				shutdown(websocket.StatusInternalError, "read failed")
			}
			return
		}

		if !rl.Allow(time.Now()) {
			g.trySend(client, v1.ErrorFrame{Error: "too many messages", Code: v1.CodeRateLimited})
			shutdown(websocket.StatusPolicyViolation, v1.ReasonRateLimited)
			return
		}

		payload, err := ParseInbound(data)
		if err != nil {
			g.metrics.Malformed()
			g.log.Debug("ws.message.malformed", "user_id", sess.IdentityID, "err", err)
			g.trySend(client, v1.MalformedMessage)
			continue
		}

		n := g.hub.Broadcast(sess, payload)
		g.log.Debug("ws.message.broadcast", "user_id", sess.IdentityID, "delivered", n)
	}
}

func (g *WSGateway) read(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	if g.cfg.ReadIdleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		defer cancel()
	}
	// Text and binary frames are both accepted; the payload must be JSON either way.
	_, data, err := conn.Read(ctx)
	return data, err
}

// trySend enqueues an error frame for this session only; it is dropped if
// the queue is full.
func (g *WSGateway) trySend(client *Client, frame v1.ErrorFrame) {
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := client.Deliver(b); err != nil {
		g.log.Debug("ws.error_frame.drop", "conn_id", client.ConnID, "code", frame.Code, "err", err)
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func classifyAuthErr(err error) (websocket.StatusCode, string, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return v1.CloseMissingToken, v1.ReasonMissingToken, "missing_token"
	case errors.Is(err, auth.ErrVerifierUnavailable):
		return v1.CloseInvalidToken, v1.ReasonVerifierError, "verifier_unavailable"
	default:
		return v1.CloseInvalidToken, v1.ReasonInvalidToken, "invalid_token"
	}
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

// originPatterns maps allowed origins to the host patterns websocket.Accept
// matches cross-origin requests against.
func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return s
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.ToLower(u.Host)
	}
	return strings.ToLower(s)
}
