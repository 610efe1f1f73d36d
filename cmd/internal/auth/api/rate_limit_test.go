package authapi

import (
	"net"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoginThrottle_Window(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	th := newLoginThrottle(3, 5*time.Minute)
	th.now = func() time.Time { return now }
	ip := net.ParseIP("203.0.113.7")

	for range 2 {
		th.fail(ip)
	}
	if blocked, _ := th.blocked(ip); blocked {
		t.Fatalf("expected allow below the limit")
	}

	th.fail(ip)
	blocked, retry := th.blocked(ip)
	if !blocked {
		t.Fatalf("expected block at the limit")
	}
	if retry != 5*time.Minute {
		t.Fatalf("expected retry=5m, got %v", retry)
	}

	now = now.Add(2 * time.Minute)
	if _, retry := th.blocked(ip); retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	if blocked, _ := th.blocked(net.ParseIP("203.0.113.8")); blocked {
		t.Fatalf("other clients must not be affected")
	}

	th.reset(ip)
	if blocked, _ := th.blocked(ip); blocked {
		t.Fatalf("expected reset to clear the block")
	}
}

func TestLoginThrottle_Disabled(t *testing.T) {
	th := newLoginThrottle(0, time.Minute)
	if th != nil {
		t.Fatalf("expected nil throttle when disabled")
	}
	ip := net.ParseIP("203.0.113.7")
	th.fail(ip)
	if blocked, _ := th.blocked(ip); blocked {
		t.Fatalf("nil throttle must never block")
	}
}

func TestWriteRateLimited_RoundsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 1500*time.Millisecond)
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After=2, got %q", got)
	}
	if rec.Code != 429 {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")

	if got := clientIP(r, false).String(); got != "192.0.2.1" {
		t.Fatalf("untrusted proxy: got %s", got)
	}
	if got := clientIP(r, true).String(); got != "198.51.100.9" {
		t.Fatalf("trusted proxy: got %s", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{LoginFailuresMax: -1}.withDefaults()
	if cfg.MaxBodyBytes != DefaultConfig().MaxBodyBytes {
		t.Fatalf("expected default body limit, got %d", cfg.MaxBodyBytes)
	}
	if cfg.LoginFailuresMax != 0 || cfg.LoginFailuresWindow <= 0 {
		t.Fatalf("unexpected throttle config: %+v", cfg)
	}
}
