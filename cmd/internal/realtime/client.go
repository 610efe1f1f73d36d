package realtime

import (
	"sync"
)

// Client is the outbound side of one websocket session.
//
// The send queue is never closed so concurrent broadcasters cannot panic;
// done signals the session goroutines instead.
type Client struct {
	ConnID string

	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	onShutdown func(reason string)
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ConnID: connID,
		send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Deliver enqueues frame without blocking.
func (c *Client) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Shutdown asks the session owning this client to close. Without a hook it
// only marks the client closed.
func (c *Client) Shutdown(reason string) {
	c.mu.Lock()
	fn := c.onShutdown
	c.mu.Unlock()

	if fn != nil {
		fn(reason)
		return
	}
	c.Close()
}

// OnShutdown installs the hook run by Shutdown.
func (c *Client) OnShutdown(fn func(reason string)) {
	c.mu.Lock()
	c.onShutdown = fn
	c.mu.Unlock()
}

// Queue exposes the outbound frames for the session writer.
func (c *Client) Queue() <-chan []byte { return c.send }

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close marks the client closed (idempotent). It does not close the queue.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
