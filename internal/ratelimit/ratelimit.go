// Package ratelimit tracks per-provider request and token quotas over
// hopping windows.
//
// Windows are hopping, not sliding: once the window length has elapsed since
// the window start, both counters reset and the window start moves to now on
// the next call. Mutations for one provider are serialised under that
// provider's lock, held only across the local read-modify-write — two
// concurrent CanAdmit calls may both succeed, and the core accepts that
// small over-admission rather than serialising all provider calls globally.
package ratelimit

import (
	"sync"
	"time"
)

// Quota configures the limits of one provider's window.
type Quota struct {
	// MaxRequests is the request budget per window. Zero refuses all
	// admissions.
	MaxRequests int

	// MaxTokens is the token budget per window. Zero refuses all
	// admissions.
	MaxTokens int

	// Window is the accumulation interval. Zero-value quotas get
	// DefaultWindow.
	Window time.Duration
}

// DefaultWindow is used when a Quota does not set one.
const DefaultWindow = time.Minute

// Snapshot is a read-only view of one provider's current window.
type Snapshot struct {
	Requests    int
	Tokens      int
	MaxRequests int
	MaxTokens   int
	WindowStart time.Time
}

// window holds the mutable counters for one provider.
type window struct {
	mu       sync.Mutex
	quota    Quota
	requests int
	tokens   int
	start    time.Time
}

// Ledger tracks quotas for a fixed set of providers registered at
// construction. All methods are safe for concurrent use; unknown provider
// names are refused admission and ignored on record.
type Ledger struct {
	mu        sync.RWMutex
	providers map[string]*window
	now       func() time.Time
}

// New creates a Ledger for the given provider quotas.
func New(quotas map[string]Quota) *Ledger {
	l := &Ledger{
		providers: make(map[string]*window, len(quotas)),
		now:       time.Now,
	}
	for name, q := range quotas {
		if q.Window <= 0 {
			q.Window = DefaultWindow
		}
		l.providers[name] = &window{quota: q}
	}
	return l
}

// Register adds or replaces a provider's quota.
func (l *Ledger) Register(name string, q Quota) {
	if q.Window <= 0 {
		q.Window = DefaultWindow
	}
	l.mu.Lock()
	l.providers[name] = &window{quota: q}
	l.mu.Unlock()
}

// CanAdmit reports whether name may make a request consuming an estimated
// estTokens. A lazy window reset is applied first; both counters plus the
// estimate must stay within quota.
func (l *Ledger) CanAdmit(name string, estTokens int) bool {
	w := l.lookup(name)
	if w == nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset(l.now())

	if w.quota.MaxRequests <= 0 || w.quota.MaxTokens <= 0 {
		return false
	}
	return w.requests+1 <= w.quota.MaxRequests &&
		w.tokens+estTokens <= w.quota.MaxTokens
}

// Record advances name's counters by one request and tokens actually used.
func (l *Ledger) Record(name string, tokens int) {
	w := l.lookup(name)
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset(l.now())
	w.requests++
	w.tokens += tokens
}

// Saturate pins name's counters to quota for the remainder of the current
// window. Called when the endpoint itself reports rate limiting so that
// local admission agrees with the remote view.
func (l *Ledger) Saturate(name string) {
	w := l.lookup(name)
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset(l.now())
	w.requests = w.quota.MaxRequests
	w.tokens = w.quota.MaxTokens
}

// Snapshot returns a read-only view of name's current window. The zero
// Snapshot is returned for unknown providers.
func (l *Ledger) Snapshot(name string) Snapshot {
	w := l.lookup(name)
	if w == nil {
		return Snapshot{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.maybeReset(l.now())
	return Snapshot{
		Requests:    w.requests,
		Tokens:      w.tokens,
		MaxRequests: w.quota.MaxRequests,
		MaxTokens:   w.quota.MaxTokens,
		WindowStart: w.start,
	}
}

func (l *Ledger) lookup(name string) *window {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers[name]
}

// maybeReset applies the lazy hopping-window reset. Must be called with
// w.mu held.
func (w *window) maybeReset(now time.Time) {
	if w.start.IsZero() {
		w.start = now
		return
	}
	if now.Sub(w.start) >= w.quota.Window {
		w.requests = 0
		w.tokens = 0
		w.start = now
	}
}
