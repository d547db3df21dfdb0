// Package ratelimit admits requests per (adapter, user) over a trailing window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the trailing window every threshold is counted over.
const DefaultWindow = time.Minute

type key struct {
	adapter string
	user    string
}

// SlidingWindow keeps the admission timestamps of every (adapter, user)
// pair inside the trailing window. State is in-process only and is lost on
// restart; replicas do not share it.
type SlidingWindow struct {
	mu           sync.Mutex
	window       time.Duration
	defaultLimit int
	limits       map[string]int
	hits         map[key][]time.Time
	now          func() time.Time
}

type Option func(*SlidingWindow)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindow) { l.now = now }
}

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(l *SlidingWindow) {
		if d > 0 {
			l.window = d
		}
	}
}

// NewSlidingWindow returns a limiter that admits defaultLimit requests per
// window for adapters without an explicit limit.
func NewSlidingWindow(defaultLimit int, opts ...Option) *SlidingWindow {
	l := &SlidingWindow{
		window:       DefaultWindow,
		defaultLimit: defaultLimit,
		limits:       make(map[string]int),
		hits:         make(map[key][]time.Time),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimit sets the per-user threshold for one adapter.
func (l *SlidingWindow) SetLimit(adapter string, limit int) {
	l.mu.Lock()
	l.limits[adapter] = limit
	l.mu.Unlock()
}

// Limit returns the threshold applied to adapter.
func (l *SlidingWindow) Limit(adapter string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limitLocked(adapter)
}

func (l *SlidingWindow) limitLocked(adapter string) int {
	if n, ok := l.limits[adapter]; ok {
		return n
	}
	return l.defaultLimit
}

// Admit drops timestamps that fell out of the window, then admits the call
// if fewer than the threshold remain and records it. Rejected calls are not
// recorded.
func (l *SlidingWindow) Admit(adapter, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	k := key{adapter: adapter, user: userID}

	kept := l.hits[k][:0]
	for _, ts := range l.hits[k] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limitLocked(adapter) {
		l.hits[k] = kept
		return false
	}

	l.hits[k] = append(kept, now)
	return true
}

// Sweep forgets pairs whose timestamps have all left the window.
func (l *SlidingWindow) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for k, stamps := range l.hits {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.hits, k)
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *SlidingWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of tracked (adapter, user) pairs.
func (l *SlidingWindow) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
