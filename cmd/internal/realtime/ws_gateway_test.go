package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/realtime"
	"courier/cmd/security/token"
	v1 "courier/contracts/realtime/v1"
)

type testHub struct {
	srv    *httptest.Server
	reg    *realtime.Registry
	tokens *token.Service

	// skew shifts the token clock forward, in nanoseconds.
	skew *atomic.Int64
}

func newTestHub(t *testing.T, verifier auth.Verifier) *testHub {
	t.Helper()

	key, err := token.RandomKey()
	require.NoError(t, err)
	skew := new(atomic.Int64)
	tokens, err := token.NewService(key, token.WithClock(func() time.Time {
		return time.Now().Add(time.Duration(skew.Load()))
	}))
	require.NoError(t, err)

	if verifier == nil {
		verifier = auth.NewLocalVerifier(tokens)
	}

	reg := realtime.NewRegistry(nil)
	hub := realtime.NewHub(nil, reg, nil)
	gw := realtime.NewWSGateway(nil, auth.NewGateway(verifier), hub, realtime.DefaultGatewayConfig(), nil)

	mux := http.NewServeMux()
	mux.Handle("/chat", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testHub{srv: srv, reg: reg, tokens: tokens, skew: skew}
}

func (h *testHub) url(raw string) string {
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/chat"
	if raw != "" {
		u += "?authorization=" + url.QueryEscape(raw)
	}
	return u
}

func (h *testHub) token(t *testing.T, id, name string) string {
	t.Helper()
	tok, err := h.tokens.Issue(id, name)
	require.NoError(t, err)
	return tok.Raw
}

func dial(t *testing.T, u string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

// connect dials as id and waits until the registry admitted the session.
func (h *testHub) connect(t *testing.T, id, name string) *websocket.Conn {
	t.Helper()
	before := h.reg.Len()
	c := dial(t, h.url(h.token(t, id, name)))
	require.Eventually(t, func() bool { return h.reg.Len() == before+1 }, 2*time.Second, 5*time.Millisecond)
	return c
}

func send(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(s)))
}

func recv(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

// closeErr reads until the server closes the connection.
func closeErr(t *testing.T, c *websocket.Conn) websocket.CloseError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := c.Read(ctx)
	require.Error(t, err)

	var ce websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	return ce
}

func TestWSGateway_HandshakeRejections(t *testing.T) {
	h := newTestHub(t, nil)

	t.Run("missing token", func(t *testing.T) {
		ce := closeErr(t, dial(t, h.url("")))
		require.Equal(t, websocket.StatusCode(v1.CloseMissingToken), ce.Code)
		require.Equal(t, v1.ReasonMissingToken, ce.Reason)
	})

	t.Run("invalid token", func(t *testing.T) {
		ce := closeErr(t, dial(t, h.url("not-a-token")))
		require.Equal(t, websocket.StatusCode(v1.CloseInvalidToken), ce.Code)
		require.Equal(t, v1.ReasonInvalidToken, ce.Reason)
	})

	t.Run("token from another key", func(t *testing.T) {
		other := newTestHub(t, nil)
		ce := closeErr(t, dial(t, h.url(other.token(t, "u1", "mallory"))))
		require.Equal(t, websocket.StatusCode(v1.CloseInvalidToken), ce.Code)
	})

	require.Zero(t, h.reg.Len())
}

func TestWSGateway_VerifierUnavailableFailsClosed(t *testing.T) {
	h := newTestHub(t, auth.VerifierFunc(func(context.Context, string) (auth.Principal, error) {
		return auth.Principal{}, errors.Join(auth.ErrInvalidToken, auth.ErrVerifierUnavailable, context.DeadlineExceeded)
	}))

	ce := closeErr(t, dial(t, h.url("anything")))
	require.Equal(t, websocket.StatusCode(v1.CloseInvalidToken), ce.Code)
	require.Equal(t, v1.ReasonVerifierError, ce.Reason)
	require.Zero(t, h.reg.Len())
}

func TestWSGateway_BroadcastToPeersOnly(t *testing.T) {
	h := newTestHub(t, nil)

	alice := h.connect(t, "id-alice", "alice")
	bob := h.connect(t, "id-bob", "bob")
	carol := h.connect(t, "id-carol", "carol")

	send(t, alice, `{"message":"hi"}`)

	want := `{"userId":"id-alice","username":"alice","message":"hi"}`
	require.JSONEq(t, want, recv(t, bob))
	require.JSONEq(t, want, recv(t, carol))

	// Alice's next frame is the reply to her malformed message, not her own broadcast.
	send(t, alice, `nope`)
	require.JSONEq(t, `{"error":"Invalid message format","code":"malformed_message"}`, recv(t, alice))
}

func TestWSGateway_MalformedKeepsSessionOpen(t *testing.T) {
	h := newTestHub(t, nil)

	alice := h.connect(t, "id-alice", "alice")
	bob := h.connect(t, "id-bob", "bob")

	send(t, alice, `{"text":"missing message field"}`)
	require.JSONEq(t, `{"error":"Invalid message format","code":"malformed_message"}`, recv(t, alice))

	send(t, alice, `{"message":{"n":1}}`)
	require.JSONEq(t, `{"userId":"id-alice","username":"alice","message":{"n":1}}`, recv(t, bob))

	// Bob never saw the malformed frame or its error reply.
	send(t, bob, `{"message":"back"}`)
	require.JSONEq(t, `{"userId":"id-bob","username":"bob","message":"back"}`, recv(t, alice))
}

func TestWSGateway_PerSenderOrder(t *testing.T) {
	h := newTestHub(t, nil)

	alice := h.connect(t, "id-alice", "alice")
	bob := h.connect(t, "id-bob", "bob")

	for i := range 20 {
		b, err := json.Marshal(map[string]int{"message": i})
		require.NoError(t, err)
		send(t, alice, string(b))
	}
	for i := range 20 {
		var out v1.Outbound
		require.NoError(t, json.Unmarshal([]byte(recv(t, bob)), &out))
		require.JSONEq(t, string(mustJSON(t, i)), string(out.Message))
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestWSGateway_OneSessionPerIdentity(t *testing.T) {
	h := newTestHub(t, nil)
	raw := h.token(t, "id-alice", "alice")

	first := dial(t, h.url(raw))
	require.Eventually(t, func() bool { return h.reg.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A second, independently issued token for the same identity.
	h.skew.Add(int64(2 * time.Second))
	second := h.token(t, "id-alice", "alice")
	require.NotEqual(t, raw, second)

	ce := closeErr(t, dial(t, h.url(second)))
	require.Equal(t, websocket.StatusCode(v1.CloseAlreadyConnected), ce.Code)
	require.Equal(t, v1.ReasonAlreadyConnected, ce.Reason)

	// The first session is unaffected.
	bob := h.connect(t, "id-bob", "bob")
	send(t, bob, `{"message":"still there?"}`)
	require.JSONEq(t, `{"userId":"id-bob","username":"bob","message":"still there?"}`, recv(t, first))

	// After a clean close the identity can connect again.
	require.NoError(t, first.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool {
		_, ok := h.reg.Get("id-alice")
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	again := dial(t, h.url(raw))
	require.Eventually(t, func() bool { return h.reg.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	send(t, bob, `{"message":"welcome back"}`)
	require.JSONEq(t, `{"userId":"id-bob","username":"bob","message":"welcome back"}`, recv(t, again))
}

func TestWSGateway_DrainClosesSessionsAndRejectsNew(t *testing.T) {
	h := newTestHub(t, nil)

	alice := h.connect(t, "id-alice", "alice")
	bob := h.connect(t, "id-bob", "bob")

	// Clients must be reading to answer the close handshake.
	codes := make(chan websocket.StatusCode, 2)
	for _, c := range []*websocket.Conn{alice, bob} {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _, err := c.Read(ctx)
			codes <- websocket.CloseStatus(err)
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.reg.Drain(ctx, v1.ReasonShuttingDown))

	for range 2 {
		require.Equal(t, websocket.StatusGoingAway, <-codes)
	}
	require.Zero(t, h.reg.Len())

	ce := closeErr(t, dial(t, h.url(h.token(t, "id-carol", "carol"))))
	require.Equal(t, websocket.StatusGoingAway, ce.Code)
}
