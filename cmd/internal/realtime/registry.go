package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"courier/cmd/internal/metrics"
)

// Handle is the registry's view of a live connection.
type Handle interface {
	// Deliver enqueues an encoded frame without blocking.
	Deliver(frame []byte) error
	// Shutdown closes the connection. It must be safe to call more than once.
	Shutdown(reason string)
}

// Session is one admitted connection.
type Session struct {
	IdentityID string
	Name       string
	ConnID     string
	AdmittedAt time.Time

	handle Handle
}

// Deliver forwards frame to the session's connection.
func (s *Session) Deliver(frame []byte) error { return s.handle.Deliver(frame) }

// Registry maps identity ids to their single live session.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	draining bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryMetrics records admissions and the live session gauge.
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithRegistryClock overrides the AdmittedAt time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		log:      log,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit registers h as the session for identityID. connID identifies the
// connection for ReleaseConn.
func (r *Registry) Admit(identityID, name, connID string, h Handle) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.draining {
		r.metrics.Admission("draining")
		return nil, ErrDraining
	}
	if _, ok := r.sessions[identityID]; ok {
		r.metrics.Admission("already_connected")
		return nil, ErrAlreadyConnected
	}

	s := &Session{
		IdentityID: identityID,
		Name:       name,
		ConnID:     connID,
		AdmittedAt: r.now().UTC(),
		handle:     h,
	}
	r.sessions[identityID] = s

	r.metrics.Admission("ok")
	r.metrics.SessionsLive(len(r.sessions))
	return s, nil
}

// Release removes the session for identityID, if any. Releasing an absent
// identity is a no-op.
func (r *Registry) Release(identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[identityID]; !ok {
		return
	}
	delete(r.sessions, identityID)
	r.metrics.SessionsLive(len(r.sessions))
}

// ReleaseConn removes the session for identityID only while it still belongs
// to connID, so a late release can never evict a newer session.
func (r *Registry) ReleaseConn(identityID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[identityID]
	if !ok || s.ConnID != connID {
		return false
	}
	delete(r.sessions, identityID)
	r.metrics.SessionsLive(len(r.sessions))
	return true
}

// Get returns the live session for identityID.
func (r *Registry) Get(identityID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[identityID]
	return s, ok
}

// Peers returns every live session except excludeID's. The slice is a
// snapshot; later admissions or releases do not affect it.
func (r *Registry) Peers(excludeID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Filter(lo.Values(r.sessions), func(s *Session, _ int) bool {
		return s.IdentityID != excludeID
	})
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Draining reports whether Drain has been called.
func (r *Registry) Draining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// Drain stops admissions, empties the registry and shuts every session down
// concurrently. It returns ctx.Err() if the handles do not finish in time.
func (r *Registry) Drain(ctx context.Context, reason string) error {
	r.mu.Lock()
	r.draining = true
	victims := lo.Values(r.sessions)
	clear(r.sessions)
	r.metrics.SessionsLive(0)
	r.mu.Unlock()

	if len(victims) == 0 {
		return nil
	}
	r.log.Info("registry.drain.start", "sessions", len(victims), "reason", reason)

	var wg sync.WaitGroup
	for _, s := range victims {
		wg.Go(func() { s.handle.Shutdown(reason) })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("registry.drain.done", "sessions", len(victims))
		return nil
	case <-ctx.Done():
		r.log.Warn("registry.drain.timeout", "sessions", len(victims), "err", ctx.Err())
		return ctx.Err()
	}
}
