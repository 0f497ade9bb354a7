// Package provhealth tracks per-provider availability, consecutive
// failures, and backoff deadlines.
//
// The tracker is one half of the router's failure handling: it remembers
// whether a provider is worth visiting at all. A provider that accumulates
// MaxFailures consecutive failures is marked unavailable and stays that way
// until an operator calls [Tracker.Reset] — the router never auto-reinstates,
// which avoids flapping between a half-dead endpoint and its fallbacks.
//
// All methods are safe for concurrent use. State for one provider is
// mutated under that provider's lock, held only across the local
// read-modify-write, never across a network call.
package provhealth

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultMaxFailures is the consecutive-failure threshold that marks a
	// provider unavailable.
	DefaultMaxFailures = 3

	// DefaultBackoffBase seeds the exponential backoff between cross-request
	// visits to a failing provider.
	DefaultBackoffBase = time.Second

	// maxBackoff caps the exponential backoff growth.
	maxBackoff = 60 * time.Second
)

// Snapshot is a read-only view of one provider's health.
type Snapshot struct {
	Available           bool
	ConsecutiveFailures int
	LastError           string
	LastErrorAt         time.Time
	Restarts            int
}

// state holds the mutable health record for one provider.
type state struct {
	mu        sync.Mutex
	available bool
	failures  int
	lastErr   string
	lastErrAt time.Time
	restarts  int
}

// Config tunes a [Tracker]. Zero-value fields get defaults.
type Config struct {
	// MaxFailures is the consecutive-failure count that marks a provider
	// unavailable. Default: 3.
	MaxFailures int

	// BackoffBase is the base of the exponential backoff formula
	// min(base * 2^(failures-1), 60s). Default: 1s.
	BackoffBase time.Duration
}

// Tracker records success/failure outcomes per provider.
type Tracker struct {
	maxFailures int
	backoffBase time.Duration

	mu        sync.RWMutex
	providers map[string]*state
}

// New creates a Tracker for the named providers. Every provider starts
// available with zero failures.
func New(names []string, cfg Config) *Tracker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	t := &Tracker{
		maxFailures: cfg.MaxFailures,
		backoffBase: cfg.BackoffBase,
		providers:   make(map[string]*state, len(names)),
	}
	for _, n := range names {
		t.providers[n] = &state{available: true}
	}
	return t
}

// RecordSuccess resets name's consecutive-failure counter and marks it
// available.
func (t *Tracker) RecordSuccess(name string) {
	s := t.lookup(name)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.failures = 0
	s.available = true
	s.mu.Unlock()
}

// RecordFailure increments name's consecutive-failure counter and stores the
// error. Reaching the max-failures threshold marks the provider unavailable.
func (t *Tracker) RecordFailure(name string, err error) {
	s := t.lookup(name)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if err != nil {
		s.lastErr = err.Error()
	}
	s.lastErrAt = time.Now()

	if s.failures >= t.maxFailures && s.available {
		s.available = false
		slog.Warn("provider marked unavailable",
			"provider", name,
			"consecutive_failures", s.failures,
			"error", s.lastErr)
	}
}

// MarkUnavailable immediately flags name as unavailable regardless of its
// failure count. Used for auth errors, which never heal with retries.
func (t *Tracker) MarkUnavailable(name string, err error) {
	s := t.lookup(name)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.available = false
	s.failures = t.maxFailures
	if err != nil {
		s.lastErr = err.Error()
	}
	s.lastErrAt = time.Now()
	slog.Warn("provider marked unavailable", "provider", name, "error", s.lastErr)
}

// Available reports whether name may be dispatched to.
func (t *Tracker) Available(name string) bool {
	s := t.lookup(name)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// InBackoff reports whether name is inside its failure backoff window at
// now: consecutive failures > 0 and less than backoff(failures) has elapsed
// since the last error.
func (t *Tracker) InBackoff(name string, now time.Time) bool {
	s := t.lookup(name)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures == 0 {
		return false
	}
	return now.Sub(s.lastErrAt) < Backoff(t.backoffBase, s.failures)
}

// Reset re-enables name: available, zero failures, restart counter
// incremented. This is the administrative re-instatement path; returns false
// for unknown providers.
func (t *Tracker) Reset(name string) bool {
	s := t.lookup(name)
	if s == nil {
		return false
	}
	s.mu.Lock()
	s.available = true
	s.failures = 0
	s.restarts++
	s.mu.Unlock()

	slog.Info("provider manually reset", "provider", name)
	return true
}

// Snapshot returns a read-only view of name's health record.
func (t *Tracker) Snapshot(name string) Snapshot {
	s := t.lookup(name)
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Available:           s.available,
		ConsecutiveFailures: s.failures,
		LastError:           s.lastErr,
		LastErrorAt:         s.lastErrAt,
		Restarts:            s.restarts,
	}
}

func (t *Tracker) lookup(name string) *state {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.providers[name]
}

// Backoff computes min(base * 2^(failures-1), 60s) for failures >= 1.
// Shared with the router's intra-provider retry sleeps.
func Backoff(base time.Duration, failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
