package realtime_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"courier/cmd/internal/realtime"
)

func admit(t *testing.T, reg *realtime.Registry, id string, h realtime.Handle) *realtime.Session {
	t.Helper()
	s, err := reg.Admit(id, id+"-name", "conn-"+id, h)
	require.NoError(t, err)
	return s
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	hub := realtime.NewHub(nil, reg, nil)

	a, b, c := &fakeHandle{}, &fakeHandle{}, &fakeHandle{}
	sa := admit(t, reg, "a", a)
	admit(t, reg, "b", b)
	admit(t, reg, "c", c)

	n := hub.Broadcast(sa, json.RawMessage(`{"text":"hi"}`))
	require.Equal(t, 2, n)

	require.Empty(t, a.Frames())
	for _, h := range []*fakeHandle{b, c} {
		frames := h.Frames()
		require.Len(t, frames, 1)
		require.JSONEq(t, `{"userId":"a","username":"a-name","message":{"text":"hi"}}`, string(frames[0]))
	}
}

func TestHub_FailingPeerIsIsolated(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	hub := realtime.NewHub(nil, reg, nil)

	a := &fakeHandle{}
	b := &fakeHandle{err: realtime.ErrBackpressure}
	c := &fakeHandle{}
	sa := admit(t, reg, "a", a)
	admit(t, reg, "b", b)
	admit(t, reg, "c", c)

	require.Equal(t, 1, hub.Broadcast(sa, json.RawMessage(`"x"`)))
	require.Len(t, c.Frames(), 1)
	require.Empty(t, b.Frames())
}

func TestHub_BroadcastAlone(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	hub := realtime.NewHub(nil, reg, nil)

	sa := admit(t, reg, "a", &fakeHandle{})
	require.Zero(t, hub.Broadcast(sa, json.RawMessage(`1`)))
}

func TestParseInbound(t *testing.T) {
	msg, err := realtime.ParseInbound([]byte(`{"message":[1,"two"]}`))
	require.NoError(t, err)
	require.JSONEq(t, `[1,"two"]`, string(msg))

	for _, bad := range []string{`not json`, `{"msg":"hi"}`, `"message"`, `{`} {
		_, err := realtime.ParseInbound([]byte(bad))
		require.ErrorIs(t, err, realtime.ErrMalformedMessage, bad)
	}
}

func TestClient_Deliver(t *testing.T) {
	c := realtime.NewClient("conn-1", 1)

	require.NoError(t, c.Deliver([]byte("one")))
	require.ErrorIs(t, c.Deliver([]byte("two")), realtime.ErrBackpressure)
	require.Equal(t, []byte("one"), <-c.Queue())

	var reasons []string
	c.OnShutdown(func(reason string) {
		reasons = append(reasons, reason)
		c.Close()
	})
	c.Shutdown("bye")
	require.Equal(t, []string{"bye"}, reasons)
	require.ErrorIs(t, c.Deliver([]byte("three")), realtime.ErrClientClosed)

	c.Close()
	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
}
