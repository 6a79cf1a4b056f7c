package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event describes one limiter decision.
type Event struct {
	Family  string
	Client  string
	Allowed bool
	At      time.Time
}

// StatsRecorder persists decision counters. Callers treat errors as best effort.
type StatsRecorder interface {
	Record(ctx context.Context, ev Event) error
}

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStats keeps per-family counters in memory.
type MemoryStats struct {
	mu       sync.Mutex
	total    Counters
	byFamily map[string]Counters
}

func NewMemoryStats() *MemoryStats {
	return &MemoryStats{byFamily: make(map[string]Counters)}
}

func (s *MemoryStats) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	c := s.byFamily[ev.Family]
	c.add(ev.Allowed)
	s.byFamily[ev.Family] = c
	return nil
}

// Snapshot returns the totals and a copy of the per-family counters.
func (s *MemoryStats) Snapshot() (Counters, map[string]Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Counters, len(s.byFamily))
	for k, v := range s.byFamily {
		out[k] = v
	}
	return s.total, out
}

// RedisStats shares counters between gateway instances. Per-minute buckets
// expire after ttl; totals are cumulative.
type RedisStats struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisStatsOption func(*RedisStats)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

func NewRedisStats(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "gateway:ratelimit",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStats) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	if ev.Family != "" {
		pipe.HIncrBy(ctx, s.prefix+":family", ev.Family+":"+field, 1)
	}

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}
