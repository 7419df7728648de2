package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/site-audit/internal/metrics"
)

// WindowConfig configures a fixed-window limiter.
type WindowConfig struct {
	// Name labels denials in metrics, e.g. "audit" or "email".
	Name   string
	Window time.Duration
	Max    int
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type counter struct {
	start time.Time
	count int
}

// FixedWindow allows at most Max calls per client key within Window. State lives in
// process memory and is lost on restart.
type FixedWindow struct {
	name   string
	window time.Duration
	max    int
	clock  Clock

	mu       sync.Mutex
	counters map[string]*counter
}

// NewFixedWindow validates cfg and builds a limiter.
func NewFixedWindow(cfg WindowConfig, clock Clock) (*FixedWindow, error) {
	if cfg.Window <= 0 {
		return nil, errors.New("window must be > 0")
	}
	if cfg.Max <= 0 {
		return nil, errors.New("max must be > 0")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	return &FixedWindow{
		name:     cfg.Name,
		window:   cfg.Window,
		max:      cfg.Max,
		clock:    clock,
		counters: make(map[string]*counter),
	}, nil
}

// Allow records a call for key and reports whether it is within the limit.
func (f *FixedWindow) Allow(key string) bool {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.counters[key]
	if !ok || now.Sub(c.start) > f.window {
		f.counters[key] = &counter{start: now, count: 1}
		return true
	}
	if c.count < f.max {
		c.count++
		return true
	}
	metrics.ObserveRateLimited(f.name)
	return false
}

// RetryAfter returns how long key must wait before its window resets. Zero means a call
// would be allowed now.
func (f *FixedWindow) RetryAfter(key string) time.Duration {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.counters[key]
	if !ok || c.count < f.max {
		return 0
	}
	remaining := c.start.Add(f.window).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Prune drops counters whose window has elapsed and returns how many were removed.
func (f *FixedWindow) Prune() int {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for key, c := range f.counters {
		if now.Sub(c.start) > f.window {
			delete(f.counters, key)
			removed++
		}
	}
	return removed
}

// Window returns the configured window length.
func (f *FixedWindow) Window() time.Duration {
	return f.window
}
