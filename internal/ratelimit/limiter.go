// Package ratelimit implements a fixed-window, per-key request counter held
// in process memory.
//
// A Limiter is an explicitly constructed value: the server builds one per
// capability and hands it to the handlers, so tests get isolated stores.
// All operations are safe for concurrent use.
package ratelimit

import (
	"sync"
	"time"
)

// sweepThreshold is the store size above which expired entries are purged
// on the next Check.
const sweepThreshold = 1000

// Config configures a Limiter.
type Config struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// Named presets selectable from configuration.
var (
	Strict = Config{Window: 10 * time.Second, MaxRequests: 10}
	Medium = Config{Window: time.Minute, MaxRequests: 30}
	Loose  = Config{Window: time.Minute, MaxRequests: 60}
)

// Preset looks up a named preset.
func Preset(name string) (Config, bool) {
	switch name {
	case "strict":
		return Strict, true
	case "medium":
		return Medium, true
	case "loose":
		return Loose, true
	}
	return Config{}, false
}

// Result is the outcome of a Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// RetryAfter returns the number of whole seconds until the window resets,
// rounded up.
func (r Result) RetryAfter(now time.Time) int {
	ms := r.ResetTime.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

type entry struct {
	count     int
	resetTime time.Time
}

// Limiter is a fixed-window request counter.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	now     func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the limiter's configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check counts one request for key and reports whether it is allowed.
// A rejected request does not consume quota.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if len(l.entries) > sweepThreshold {
		l.sweep(now)
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.resetTime) {
		e = &entry{count: 1, resetTime: now.Add(l.cfg.Window)}
		l.entries[key] = e
		return Result{
			Allowed:   true,
			Limit:     l.cfg.MaxRequests,
			Remaining: l.cfg.MaxRequests - 1,
			ResetTime: e.resetTime,
		}
	}

	if e.count >= l.cfg.MaxRequests {
		return Result{
			Allowed:   false,
			Limit:     l.cfg.MaxRequests,
			Remaining: 0,
			ResetTime: e.resetTime,
		}
	}

	e.count++
	return Result{
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - e.count,
		ResetTime: e.resetTime,
	}
}

// Reset forgets the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Clear forgets all windows.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Len returns the number of tracked keys, expired or not.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweep removes expired entries. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, e := range l.entries {
		if now.After(e.resetTime) {
			delete(l.entries, key)
		}
	}
}
