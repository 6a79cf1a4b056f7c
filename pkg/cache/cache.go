// Package cache holds shaped upstream responses for a fixed lifetime and
// collapses concurrent fetches of the same key into one upstream call.
package cache

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Payload is a shaped response ready to be written to a client.
type Payload struct {
	Body    []byte
	Headers map[string]string
}

// Entry is a cached payload. It is never served at or after ExpiresAt.
type Entry struct {
	Payload   Payload
	Tags      []string
	ExpiresAt time.Time
}

// FetchFunc produces a fresh payload and the tags it depends on.
type FetchFunc func(ctx context.Context) (Payload, []string, error)

type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Shared   int64 `json:"shared"`
	Entries  int   `json:"entries"`
	Evicted  int64 `json:"evicted"`
	Inflight int   `json:"inflight"`
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	stats      Stats

	// epoch advances on every invalidation; invalidated maps a tag to the
	// epoch of its last invalidation. A fetch started before that epoch
	// must not store a payload carrying the tag.
	epoch       uint64
	invalidated map[string]uint64
	pending     map[string]int

	group singleflight.Group
	now   func() time.Time
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMaxEntries bounds the cache; the entry closest to expiry is evicted first.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[string]*Entry),
		invalidated: make(map[string]uint64),
		pending:     make(map[string]int),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a normalized request signature. Query parameters are sorted.
func Key(endpoint string, params url.Values) string {
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

// Get returns the payload stored under key if it has not expired.
func (c *Cache) Get(key string) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

func (c *Cache) lookup(key string) (Payload, bool) {
	e, ok := c.entries[key]
	if !ok {
		return Payload{}, false
	}
	if !c.now().Before(e.ExpiresAt) {
		delete(c.entries, key)
		return Payload{}, false
	}
	return e.Payload, true
}

// Set stores p under key for ttl.
func (c *Cache) Set(key string, p Payload, tags []string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, p, tags, ttl)
}

func (c *Cache) set(key string, p Payload, tags []string, ttl time.Duration) {
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOne()
	}
	c.entries[key] = &Entry{Payload: p, Tags: tags, ExpiresAt: c.now().Add(ttl)}
}

func (c *Cache) evictOne() {
	var (
		victim string
		oldest time.Time
	)
	for k, e := range c.entries {
		if victim == "" || e.ExpiresAt.Before(oldest) {
			victim, oldest = k, e.ExpiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.stats.Evicted++
	}
}

// GetOrFetch serves key from the cache or calls fetch once for all concurrent
// callers of the same key. Failed fetches are not cached and do not evict a
// still-valid entry. A payload whose tags were invalidated while it was being
// fetched is returned to its callers but not cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (Payload, error) {
	c.mu.Lock()
	if p, ok := c.lookup(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return p, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	// The shared fetch outlives any single caller; each fetch carries its own timeout.
	fctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cache fetch for %q panicked: %v", key, r)
			}
		}()

		if p, ok := c.Get(key); ok {
			return p, nil
		}

		started := c.begin(key)
		defer c.done(key)

		p, tags, err := fetch(fctx)
		if err != nil {
			return Payload{}, err
		}
		c.setIfCurrent(key, p, tags, ttl, started)
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.mu.Lock()
			c.stats.Shared++
			c.mu.Unlock()
		}
		if res.Err != nil {
			return Payload{}, res.Err
		}
		return res.Val.(Payload), nil
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

// begin marks key as being fetched and returns the current epoch.
func (c *Cache) begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key]++
	return c.epoch
}

func (c *Cache) done(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key]--; c.pending[key] <= 0 {
		delete(c.pending, key)
	}
}

func (c *Cache) setIfCurrent(key string, p Payload, tags []string, ttl time.Duration, started uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tags {
		if c.invalidated[t] > started {
			return false
		}
	}
	c.set(key, p, tags, ttl)
	return true
}

// InvalidateTag drops every entry that depends on tag and returns the count.
// Fetches in flight are detached so later callers start a fresh one.
func (c *Cache) InvalidateTag(tag string) int {
	c.mu.Lock()
	c.epoch++
	c.invalidated[tag] = c.epoch

	inflight := make([]string, 0, len(c.pending))
	for k := range c.pending {
		inflight = append(inflight, k)
	}

	n := 0
	for k, e := range c.entries {
		for _, t := range e.Tags {
			if t == tag {
				delete(c.entries, k)
				n++
				break
			}
		}
	}
	c.mu.Unlock()

	for _, k := range inflight {
		c.group.Forget(k)
	}
	return n
}

// Sweep drops expired entries.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) StartJanitor(ctx context.Context, every time.Duration) {
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
				c.Sweep()
			}
		}
	}()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	for _, n := range c.pending {
		s.Inflight += n
	}
	return s
}
