// Package cache provides bounded in-memory TTL caches and the Layer of tiers
// (short, long, snapshots, cooldown) shared by the provider and the trackers.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

const DefaultMaxEntries = 4096

type entry struct {
	key        string
	value      any
	insertedAt time.Time
}

// TTL is a bounded key/value cache whose entries expire ttl after insertion.
// Expired entries are misses and are removed on access; when full, the
// oldest insertion is evicted. Safe for concurrent use.
type TTL struct {
	name string
	ttl  time.Duration
	max  int
	now  func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = oldest insertion

	flight singleflight.Group
}

type Option func(*TTL)

// WithClock replaces time.Now; tests use it to move time forward.
func WithClock(now func() time.Time) Option {
	return func(c *TTL) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMaxEntries(n int) Option {
	return func(c *TTL) {
		if n > 0 {
			c.max = n
		}
	}
}

func NewTTL(name string, ttl time.Duration, opts ...Option) *TTL {
	c := &TTL{
		name:  name,
		ttl:   ttl,
		max:   DefaultMaxEntries,
		now:   time.Now,
		items: map[string]*list.Element{},
		order: list.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *TTL) Name() string       { return c.name }
func (c *TTL) TTL() time.Duration { return c.ttl }

func (c *TTL) expired(e *entry) bool {
	return c.ttl > 0 && !c.now().Before(e.insertedAt.Add(c.ttl))
}

func (c *TTL) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeLocked(el)
		return nil, false
	}
	return e.value, true
}

// Set inserts or replaces key; a replaced key counts as a fresh insertion.
func (c *TTL) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.max {
		c.removeLocked(c.order.Front())
	}
	c.items[key] = c.order.PushBack(&entry{key: key, value: value, insertedAt: c.now()})
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len counts stored entries, expired ones included until they are touched.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every expired entry and returns how many were removed.
func (c *TTL) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry)) {
			c.removeLocked(el)
			n++
		}
		el = next
	}
	return n
}

func (c *TTL) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.items, e.key)
	c.order.Remove(el)
}

// GetOrLoad returns the cached value or runs load once for all concurrent
// callers of the same key. Errors are returned to every waiter and not cached.
func (c *TTL) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if load == nil {
		return nil, errors.New("cache: loader is required")
	}
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	return v, err
}

// Load is the typed form of GetOrLoad.
func Load[T any](ctx context.Context, c *TTL, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) { return load(ctx) })
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.Newf("cache %s: unexpected value type %T for %q", c.name, v, key)
	}
	return t, nil
}

// Lookup is the typed form of Get.
func Lookup[T any](c *TTL, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
