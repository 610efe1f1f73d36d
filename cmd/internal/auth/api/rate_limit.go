package authapi

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"courier/cmd/internal/httpx"
)

const throttleTrackedClients = 4096

// loginThrottle counts failed logins per client IP inside a fixed window that
// starts at the first failure.
type loginThrottle struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	now      func() time.Time
	failures *expirable.LRU[string, failureWindow]
}

type failureWindow struct {
	count int
	start time.Time
}

func newLoginThrottle(max int, window time.Duration) *loginThrottle {
	if max <= 0 {
		return nil
	}
	return &loginThrottle{
		max:      max,
		window:   window,
		now:      time.Now,
		failures: expirable.NewLRU[string, failureWindow](throttleTrackedClients, nil, window),
	}
}

// blocked reports whether ip is over the limit and how long until it resets.
func (t *loginThrottle) blocked(ip net.IP) (bool, time.Duration) {
	if t == nil || ip == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	fw, ok := t.failures.Get(ip.String())
	if !ok || fw.count < t.max {
		return false, 0
	}
	retry := t.window - t.now().Sub(fw.start)
	if retry <= 0 {
		t.failures.Remove(ip.String())
		return false, 0
	}
	return true, retry
}

func (t *loginThrottle) fail(ip net.IP) {
	if t == nil || ip == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := ip.String()
	now := t.now()
	fw, ok := t.failures.Get(key)
	if !ok || now.Sub(fw.start) >= t.window {
		fw = failureWindow{start: now}
	}
	fw.count++
	t.failures.Add(key, fw)
}

func (t *loginThrottle) reset(ip net.IP) {
	if t == nil || ip == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures.Remove(ip.String())
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
