package client

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	// DefaultIdleThreshold is how long without interaction before the
	// user is signed out.
	DefaultIdleThreshold = 30 * time.Minute
	// DefaultCheckInterval is the cooperative polling cadence. Much
	// coarser than the interaction granularity; detection can lag by up
	// to one interval, which the server-side expiry backstops.
	DefaultCheckInterval = time.Minute
)

// IdleMonitor tracks the most recent user interaction and forces a
// sign-out once the idle threshold elapses while a session exists. One
// monitor runs per tab; tabs do not coordinate, the server-side expiry
// remains authoritative for tabs not running one.
type IdleMonitor struct {
	threshold    time.Duration
	interval     time.Duration
	lastActivity atomic.Int64 // unix nanos

	signedIn func() bool
	onIdle   func()
}

// NewIdleMonitor creates a monitor. signedIn reports whether a session
// currently exists; onIdle performs the sign-out.
func NewIdleMonitor(threshold, interval time.Duration, signedIn func() bool, onIdle func()) *IdleMonitor {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	m := &IdleMonitor{
		threshold: threshold,
		interval:  interval,
		signedIn:  signedIn,
		onIdle:    onIdle,
	}
	m.Touch()
	return m
}

// Touch records a user interaction: pointer movement, click, key press,
// scroll, or touch. Safe to call from any goroutine.
func (m *IdleMonitor) Touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor returns the time since the last recorded interaction.
func (m *IdleMonitor) IdleFor() time.Duration {
	return time.Since(time.Unix(0, m.lastActivity.Load()))
}

// Run polls until ctx is cancelled. It never blocks callers of Touch
// and its checks are advisory between ticks.
func (m *IdleMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *IdleMonitor) check() {
	if m.IdleFor() < m.threshold {
		return
	}
	if m.signedIn != nil && !m.signedIn() {
		return
	}
	if m.onIdle != nil {
		m.onIdle()
	}
}

// StartIdleMonitor wires a monitor to this client: idle timeout signs
// the user out server-side and clears local identity state. The monitor
// runs until ctx is cancelled.
func (c *Client) StartIdleMonitor(ctx context.Context, threshold, interval time.Duration) *IdleMonitor {
	monitor := NewIdleMonitor(threshold, interval, c.SignedIn, func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Logout(logoutCtx)
	})
	go monitor.Run(ctx)
	return monitor
}
