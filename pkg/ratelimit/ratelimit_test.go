package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_AllowsExactlyLimitPerWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	const limit = 5
	for i := 1; i <= limit; i++ {
		dec := l.Allow("k", limit, time.Minute)
		if !dec.Allowed {
			t.Fatalf("request %d: want allowed", i)
		}
		if dec.Remaining != limit-i {
			t.Errorf("request %d: want remaining %d, got %d", i, limit-i, dec.Remaining)
		}
	}

	dec := l.Allow("k", limit, time.Minute)
	if dec.Allowed {
		t.Fatal("want request over the limit to be rejected")
	}
	if dec.Remaining != 0 {
		t.Errorf("want remaining 0, got %d", dec.Remaining)
	}
	wantReset := clock.Now().Add(time.Minute)
	if !dec.ResetAt.Equal(wantReset) {
		t.Errorf("want reset at %v, got %v", wantReset, dec.ResetAt)
	}
}

func TestLimiter_RejectionDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	l.Allow("k", 1, time.Minute)
	for i := 0; i < 3; i++ {
		l.Allow("k", 1, time.Minute)
	}

	l.mu.Lock()
	got := l.records["k"].Count
	l.mu.Unlock()
	if got != 1 {
		t.Errorf("want count 1 after rejections, got %d", got)
	}
}

func TestLimiter_WindowResets(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	l.Allow("k", 2, time.Minute)
	l.Allow("k", 2, time.Minute)
	if l.Allow("k", 2, time.Minute).Allowed {
		t.Fatal("want third request rejected")
	}

	clock.Advance(time.Minute)

	dec := l.Allow("k", 2, time.Minute)
	if !dec.Allowed {
		t.Fatal("want request after window reset to be allowed")
	}
	if dec.Remaining != 1 {
		t.Errorf("want remaining 1 in fresh window, got %d", dec.Remaining)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New()

	if !l.Allow(Key("posts", "1.1.1.1"), 1, time.Minute).Allowed {
		t.Fatal("want first posts request allowed")
	}
	if !l.Allow(Key("images", "1.1.1.1"), 1, time.Minute).Allowed {
		t.Error("want images family to have its own budget")
	}
	if !l.Allow(Key("posts", "2.2.2.2"), 1, time.Minute).Allowed {
		t.Error("want other client to have its own budget")
	}
}

func TestLimiter_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New()

	const (
		limit   = 50
		callers = 500
	)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if l.Allow("k", limit, time.Minute).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Errorf("want %d allowed, got %d", limit, got)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))

	l.Allow("old", 10, time.Second)
	l.Allow("new", 10, time.Hour)
	clock.Advance(2 * time.Second)

	if n := l.Sweep(); n != 1 {
		t.Errorf("want 1 swept record, got %d", n)
	}
	if n := l.Len(); n != 1 {
		t.Errorf("want 1 remaining record, got %d", n)
	}
}

func TestLimiter_StartJanitor(t *testing.T) {
	clock := newFakeClock()
	l := New(WithClock(clock.Now))
	l.Allow("k", 10, time.Millisecond)
	clock.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l.StartJanitor(ctx, time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for l.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if n := l.Len(); n != 0 {
		t.Errorf("want janitor to drop expired record, %d left", n)
	}
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{name: "full minute", resetAt: now.Add(time.Minute), want: 60},
		{name: "fraction rounds up", resetAt: now.Add(1500 * time.Millisecond), want: 2},
		{name: "past reset", resetAt: now.Add(-time.Second), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decision{ResetAt: tt.resetAt}.RetryAfter(now)
			if got != tt.want {
				t.Errorf("want %d, got %d", tt.want, got)
			}
		})
	}
}
