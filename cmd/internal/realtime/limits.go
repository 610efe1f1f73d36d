package realtime

import "time"

const (
	// Max bytes per websocket frame read.
	maxFrameBytes = 64 << 10 // 64 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection inbound frames per window.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second
)
