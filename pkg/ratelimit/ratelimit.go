// Package ratelimit implements a fixed-window request limiter keyed by client
// and endpoint family.
//
// Records live in process memory only and are lost on restart. A janitor
// goroutine removes records whose window has elapsed.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Record tracks requests seen for a key in its current window.
type Record struct {
	Count   int
	ResetAt time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) int {
	secs := math.Ceil(d.ResetAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}

type Limiter struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, used by tests to advance windows.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		records: make(map[string]*Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow checks the key against limit requests per window and consumes one
// slot when the request is admitted. Rejected requests do not count.
func (l *Limiter) Allow(key string, limit int, window time.Duration) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok || !now.Before(rec.ResetAt) {
		rec = &Record{Count: 1, ResetAt: now.Add(window)}
		l.records[key] = rec
		return Decision{Allowed: true, Limit: limit, Remaining: max(limit-1, 0), ResetAt: rec.ResetAt}
	}

	if rec.Count >= limit {
		return Decision{Allowed: false, Limit: limit, Remaining: 0, ResetAt: rec.ResetAt}
	}

	rec.Count++
	return Decision{Allowed: true, Limit: limit, Remaining: limit - rec.Count, ResetAt: rec.ResetAt}
}

// Sweep removes records whose window has elapsed and returns how many were dropped.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, rec := range l.records {
		if !now.Before(rec.ResetAt) {
			delete(l.records, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// StartJanitor sweeps expired records every interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}
