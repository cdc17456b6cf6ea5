// Package ratelimit implements a sliding-window admission gate over named
// keys. It protects the resolution pipeline and the backup store from
// high-frequency polling by the same device or dashboard.
//
// Unlike a token bucket, the window counts only events inside a trailing
// interval, so Remaining and ResetIn have exact answers at any instant.
// The limiter is a pure admission gate: it never blocks, never retries, and
// a full window simply denies until entries age out. Callers decide what to
// do when denied.
//
// Memory is bounded two ways: each Allow/Remaining call prunes the touched
// key lazily, and a periodic sweep evicts keys whose newest timestamp is
// older than a stale threshold.
//
// This type is safe for concurrent use. Each key carries its own lock so
// different keys never contend.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// defaultSweepInterval is how often the background sweep runs.
	defaultSweepInterval = 60 * time.Second
	// defaultStaleAfter is how long a key may sit idle before the sweep
	// evicts it.
	defaultStaleAfter = 5 * time.Minute
)

// window holds the admission timestamps for one key, newest last.
type window struct {
	mu     sync.Mutex
	events []time.Time
}

// prune drops events older than now-span. Caller must hold w.mu.
func (w *window) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for i < len(w.events) && !w.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// Limiter is a sliding-window rate limiter keyed by arbitrary strings
// (typically "bin:<id>" or "dashboard:<ip>").
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	sweepInterval time.Duration
	staleAfter    time.Duration

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New constructs a Limiter with the default sweep cadence (60s) and stale
// threshold (5m).
func New() *Limiter {
	return &Limiter{
		windows:       make(map[string]*window),
		sweepInterval: defaultSweepInterval,
		staleAfter:    defaultStaleAfter,
		now:           time.Now,
	}
}

// getWindow returns the window for key, creating it if absent.
func (l *Limiter) getWindow(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// Allow reports whether a request for key is admitted under the policy of at
// most maxRequests events per trailing windowSpan, recording the event on
// admission.
func (l *Limiter) Allow(key string, maxRequests int, windowSpan time.Duration) bool {
	if maxRequests <= 0 {
		return false
	}
	now := l.now()
	w := l.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, windowSpan)
	if len(w.events) >= maxRequests {
		return false
	}
	w.events = append(w.events, now)
	return true
}

// Remaining returns how many more requests key may make right now before
// the window fills.
func (l *Limiter) Remaining(key string, maxRequests int, windowSpan time.Duration) int {
	if maxRequests <= 0 {
		return 0
	}
	now := l.now()
	w := l.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, windowSpan)
	rem := maxRequests - len(w.events)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// ResetIn returns how long until the oldest event for key leaves the window,
// i.e. the earliest instant at which a denied caller could be admitted.
// It returns 0 when the window is empty.
func (l *Limiter) ResetIn(key string, windowSpan time.Duration) time.Duration {
	now := l.now()
	w := l.getWindow(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, windowSpan)
	if len(w.events) == 0 {
		return 0
	}
	d := w.events[0].Add(windowSpan).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Sweep removes keys whose newest event is older than the stale threshold
// and returns the number of keys evicted. It is called periodically by Run
// but may also be invoked directly.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		w.mu.Lock()
		stale := len(w.events) == 0 || now.Sub(w.events[len(w.events)-1]) >= l.staleAfter
		w.mu.Unlock()
		if stale {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Run sweeps on the configured interval until ctx is cancelled. Intended to
// be started once from main as a background worker.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(l.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// Len returns the number of tracked keys. Used by tests and metrics.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}
