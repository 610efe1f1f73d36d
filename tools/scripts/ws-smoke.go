// Package main provides a CI-friendly smoke test for a running courier
// deployment.
//
// It validates:
//   - register (or login) against the issuer
//   - handshake + subprotocol selection on the hub
//   - fanout of a message to the other client, never back to the sender
//   - malformed frames answered to the sender only
//   - a second connection for the same identity rejected with 4409
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "courier/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name  string
	token string
	conn  *websocket.Conn

	inbox chan json.RawMessage
	errCh chan error
}

func main() {
	var (
		issuerURL = flag.String("issuer", "http://127.0.0.1:4000", "Issuer base URL")
		wsURL     = flag.String("url", "ws://127.0.0.1:3000/chat", "Hub WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		secret    = flag.String("password", "smoke-test-secret", "Password for the smoke identities")
		text      = flag.String("text", "hello courier 👋", "Message text to send")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	a := &smokeClient{name: fmt.Sprintf("smoke-a-%d", suffix)}
	b := &smokeClient{name: fmt.Sprintf("smoke-b-%d", suffix)}
	a.token = mustToken(root, *issuerURL, a.name, *secret, *timeout)
	b.token = mustToken(root, *issuerURL, b.name, *secret, *timeout)

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.name, b.name, *origin)
	}

	mustWriteWithTimeout(root, a.conn, mustJSON(map[string]string{"message": *text}), *timeout)
	mustAssertBroadcast(root, b, a.name, *text, *timeout)
	mustAssertSilent(root, a, 750*time.Millisecond)

	mustWriteWithTimeout(root, a.conn, []byte("not json"), *timeout)
	mustAssertMalformedReply(root, a, *timeout)
	mustAssertSilent(root, b, 750*time.Millisecond)

	mustRejectDuplicate(root, a, *wsURL, *origin, *timeout)

	fmt.Printf("OK: A=%s B=%s\n", a.name, b.name)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// mustToken registers name, falling back to login when it already exists.
func mustToken(parent context.Context, issuerURL, name, secret string, stepTimeout time.Duration) string {
	body := mustJSON(map[string]string{"username": name, "password": secret})

	for _, path := range []string{"/register", "/login"} {
		tok, status := postCredentials(parent, issuerURL+path, body, stepTimeout)
		if tok != "" {
			return tok
		}
		if status != http.StatusConflict {
			fatalf("%s %s: unexpected status %d", path, name, status)
		}
	}
	fatalf("could not obtain a token for %s", name)
	return ""
}

func postCredentials(parent context.Context, endpoint string, body []byte, stepTimeout time.Duration) (string, int) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("post %s: %v", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", resp.StatusCode
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode token response: %v", err)
	}
	return out.Token, resp.StatusCode
}

func dialWS(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) (*websocket.Conn, *http.Response, error) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	conn, resp, err := dialWS(parent, wsURL, origin, c.token, stepTimeout)
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}
	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.inbox = make(chan json.RawMessage, 512)
	c.errCh = make(chan error, 1)
	c.startReadLoop()
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}
			if !json.Valid(data) {
				select {
				case c.errCh <- fmt.Errorf("bad json: %q", data):
				default:
				}
				return
			}

			select {
			case c.inbox <- json.RawMessage(data):
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustAssertBroadcast(parent context.Context, c *smokeClient, from, text string, stepTimeout time.Duration) {
	frame := c.mustRead(parent, stepTimeout)

	var out v1.Outbound
	if err := json.Unmarshal(frame, &out); err != nil {
		fatalf("unmarshal broadcast (%s): %v", c.name, err)
	}
	if out.Username != from {
		fatalf("broadcast sender mismatch (%s): got=%q want=%q", c.name, out.Username, from)
	}
	if strings.TrimSpace(out.UserID) == "" {
		fatalf("broadcast missing userId (%s)", c.name)
	}
	var got string
	if err := json.Unmarshal(out.Message, &got); err != nil || got != text {
		fatalf("broadcast text mismatch (%s): got=%s want=%q", c.name, out.Message, text)
	}
}

func mustAssertMalformedReply(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	frame := c.mustRead(parent, stepTimeout)

	var ef v1.ErrorFrame
	if err := json.Unmarshal(frame, &ef); err != nil {
		fatalf("unmarshal error frame (%s): %v", c.name, err)
	}
	if ef.Error != v1.MalformedMessage.Error {
		fatalf("error frame mismatch (%s): got=%q want=%q", c.name, ef.Error, v1.MalformedMessage.Error)
	}
}

// mustAssertSilent fails if c receives anything within wait.
func mustAssertSilent(parent context.Context, c *smokeClient, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	select {
	case <-ctx.Done():
	case err := <-c.errCh:
		fatalf("connection closed unexpectedly (%s): %v", c.name, err)
	case frame, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed unexpectedly (%s)", c.name)
		}
		fatalf("unexpected frame (%s): %s", c.name, frame)
	}
}

func mustRejectDuplicate(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	conn, _, err := dialWS(parent, wsURL, origin, c.token, stepTimeout)
	if err != nil {
		fatalf("duplicate dial (%s): %v", c.name, err)
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	_, _, err = conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusCode(v1.CloseAlreadyConnected) {
		fatalf("duplicate connection (%s): got close %d want %d (err=%v)", c.name, got, v1.CloseAlreadyConnected, err)
	}
}

func (c *smokeClient) mustRead(parent context.Context, stepTimeout time.Duration) json.RawMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for frame (%s): %v", c.name, ctx.Err())
	case err := <-c.errCh:
		fatalf("connection error while waiting (%s): %v", c.name, err)
	case frame, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting (%s)", c.name)
		}
		return frame
	}
	return nil
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, frame []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
