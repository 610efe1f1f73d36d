package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"courier/cmd/internal/metrics"
)

// State is the lifecycle phase of a Coordinator.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StatePersisted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StatePersisted:
		return "persisted"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Drainer stops accepting work and closes what is live.
type Drainer interface {
	Drain(ctx context.Context, reason string) error
}

// Persister writes durable state during shutdown.
type Persister interface {
	Persist(ctx context.Context) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context) error

func (f PersisterFunc) Persist(ctx context.Context) error { return f(ctx) }

// Coordinator runs the shutdown sequence exactly once:
// Running -> Draining -> Persisted -> Terminated.
//
// A persist failure is logged and the sequence still reaches Terminated.
type Coordinator struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu         sync.Mutex
	state      State
	drainers   []Drainer
	servers    []*http.Server
	persisters []Persister

	once sync.Once
	done chan struct{}
}

// NewCoordinator returns a Coordinator in StateRunning. timeout bounds the
// draining phase and, separately, the persist phase.
func NewCoordinator(log *slog.Logger, timeout time.Duration, m *metrics.Metrics) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m.ShutdownState(int(StateRunning))
	return &Coordinator{
		log:     log,
		metrics: m,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// AddDrainer registers d for the draining phase.
func (c *Coordinator) AddDrainer(d Drainer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainers = append(c.drainers, d)
}

// AddServer registers srv for graceful shutdown during draining.
func (c *Coordinator) AddServer(srv *http.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append(c.servers, srv)
}

// AddPersister registers p for the persist phase.
func (c *Coordinator) AddPersister(p Persister) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisters = append(c.persisters, p)
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the coordinator reaches StateTerminated.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Watch starts the shutdown on the first signal received from sigs. Later
// signals are logged and ignored. It returns when shutdown completed or ctx
// is done.
func (c *Coordinator) Watch(ctx context.Context, sigs <-chan os.Signal) {
	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case sig := <-sigs:
			if started {
				c.log.Info("shutdown.signal.ignored", "signal", sig.String(), "state", c.State().String())
				continue
			}
			started = true
			c.log.Info("shutdown.signal", "signal", sig.String())
			go func() { _ = c.Shutdown(context.WithoutCancel(ctx)) }()
		}
	}
}

// Shutdown runs the sequence once; concurrent and later calls wait for the
// first run and return nil. ctx bounds how long the caller waits.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		go c.run(context.WithoutCancel(ctx))
	})

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(parent context.Context) {
	defer close(c.done)

	c.mu.Lock()
	drainers := append([]Drainer(nil), c.drainers...)
	servers := append([]*http.Server(nil), c.servers...)
	persisters := append([]Persister(nil), c.persisters...)
	c.mu.Unlock()

	start := time.Now()
	c.setState(StateDraining)

	drainCtx, cancel := context.WithTimeout(parent, c.timeout)
	c.drain(drainCtx, drainers, servers)
	cancel()

	// Persist runs on its own timeout, independent of how long draining took.
	persistCtx, cancel := context.WithTimeout(parent, c.timeout)
	c.persist(persistCtx, persisters)
	cancel()
	c.setState(StatePersisted)

	c.setState(StateTerminated)
	c.log.Info("shutdown.done", "duration_ms", time.Since(start).Milliseconds())
}

func (c *Coordinator) drain(ctx context.Context, drainers []Drainer, servers []*http.Server) {
	// Sessions first: hijacked websocket connections are invisible to
	// http.Server.Shutdown.
	for _, d := range drainers {
		if err := d.Drain(ctx, "server shutting down"); err != nil {
			c.log.Warn("shutdown.drain.fail", "err", err)
		}
	}

	var g errgroup.Group
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		c.log.Warn("shutdown.server.fail", "err", err)
	}
}

func (c *Coordinator) persist(ctx context.Context, persisters []Persister) {
	for _, p := range persisters {
		if err := p.Persist(ctx); err != nil {
			c.metrics.SnapshotWrite("fail")
			c.log.Error("shutdown.persist.fail", "err", err)
			continue
		}
		c.metrics.SnapshotWrite("ok")
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	c.metrics.ShutdownState(int(s))
	c.log.Info("shutdown.state", "from", prev.String(), "to", s.String())
}
