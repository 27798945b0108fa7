// Package ratelimit implements the fixed-window per-source-IP counter
// used to throttle upgrade attempts. A background sweep reclaims
// entries whose window has expired, so memory is bounded by the number
// of distinct IPs seen within one window.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// sweepInterval is how often expired windows are reclaimed.
const sweepInterval = 60 * time.Second

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by source IP.
type Limiter struct {
	max    int
	window time.Duration
	log    *slog.Logger

	// now is replaceable in tests to step through windows without
	// sleeping.
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
	stopCh  chan struct{}
	stopped bool
}

// Snapshot is a point-in-time view for the stats endpoint.
type Snapshot struct {
	TrackedIPs int `json:"tracked_ips"`
}

// New creates a limiter allowing max attempts per window for each IP.
func New(max int, window time.Duration, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		max:     max,
		window:  window,
		log:     log.With("component", "ratelimit"),
		now:     time.Now,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
}

// Allow records one attempt from ip and reports whether it is within
// the window's budget. The first attempt of a window (or of an expired
// one) resets the counter.
func (l *Limiter) Allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok || !now.Before(e.resetAt) {
		l.entries[ip] = entry{count: 1, resetAt: now.Add(l.window)}
		return true
	}
	e.count++
	l.entries[ip] = e
	return e.count <= l.max
}

// Start launches the background sweep. It returns immediately.
func (l *Limiter) Start() {
	go l.sweepLoop()
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes entries whose window has expired.
func (l *Limiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		l.log.Debug("swept expired rate entries", "removed", removed, "remaining", len(l.entries))
	}
}

// Stop cancels the sweep and clears the map. Safe to call more than
// once.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stopCh)
	l.entries = make(map[string]entry)
}

// Snapshot returns current limiter state for observability.
func (l *Limiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{TrackedIPs: len(l.entries)}
}
