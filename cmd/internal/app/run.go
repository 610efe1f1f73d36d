package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 15 * time.Second
	defaultIdleTimeout       = 60 * time.Second
)

// Run is the entrypoint used by the serve commands. SIGINT and SIGTERM both
// trigger the same shutdown sequence.
func Run(cfg Config, mode Mode) error {
	log := NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log, mode)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	return a.Run(context.Background(), sigs)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
