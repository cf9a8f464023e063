// Package typing maintains a chat transport's "typing..." indicator for
// the duration of a long-running agent run, re-sending it on an interval
// since most chat platforms expire the indicator after a few seconds.
package typing

import (
	"log/slog"
	"sync"
	"time"
)

// Options configures a Controller.
type Options struct {
	// StartFn sends one "typing" action to the transport. Called
	// immediately on Start and again every KeepaliveInterval.
	StartFn func() error

	// KeepaliveInterval is how often StartFn is re-invoked to keep the
	// indicator alive. Must be shorter than the transport's own expiry.
	KeepaliveInterval time.Duration

	// MaxDuration is a safety net: the controller stops itself after
	// this long even if Stop is never called, so a dropped reply never
	// leaves a chat stuck showing "typing" forever.
	MaxDuration time.Duration
}

// Controller drives one chat's typing indicator on a background
// goroutine until Stop is called or MaxDuration elapses.
type Controller struct {
	opts Options

	once   sync.Once
	stopCh chan struct{}
}

// New builds a Controller. Call Start to begin sending the indicator.
func New(opts Options) *Controller {
	return &Controller{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start sends the first typing action and begins the keepalive loop on
// a background goroutine. Safe to call once per Controller.
func (c *Controller) Start() {
	go c.run()
}

// Stop ends the keepalive loop. Idempotent and safe to call more than
// once or concurrently with the loop's own MaxDuration expiry.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.stopCh) })
}

func (c *Controller) run() {
	if err := c.opts.StartFn(); err != nil {
		slog.Debug("typing.indicator.send_failed", "error", err)
	}

	interval := c.opts.KeepaliveInterval
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if c.opts.MaxDuration > 0 {
		timer := time.NewTimer(c.opts.MaxDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-c.stopCh:
			return
		case <-deadline:
			return
		case <-ticker.C:
			if err := c.opts.StartFn(); err != nil {
				slog.Debug("typing.indicator.send_failed", "error", err)
			}
		}
	}
}
