package app

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 101, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "1xx"},
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		require.Equal(t, tc.wantLevel, level, tc.status)
		require.Equal(t, tc.wantResult, result, tc.status)
		require.Equal(t, tc.wantClass, statusClass(tc.status))
	}
	require.Equal(t, "unknown", statusClass(42))
}

func TestWithRequestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	h := WithRequestLogging(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, ok := w.(http.Hijacker)
		require.True(t, ok, "websocket upgrades need the Hijacker")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/info", nil))

	require.Equal(t, http.StatusTeapot, rr.Code)
	line := buf.String()
	require.Contains(t, line, "level=WARN")
	require.Contains(t, line, "msg=http.request")
	require.Contains(t, line, "status=418")
	require.Contains(t, line, "bytes=15")
	require.Contains(t, line, "path=/info")
}

func TestWithSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
}
