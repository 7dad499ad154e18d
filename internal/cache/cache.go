// Package cache holds the last listing of every provider, replaced
// wholesale on refresh and considered fresh for a fixed TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// DefaultTTL is how long a provider listing stays fresh.
const DefaultTTL = 5 * time.Minute

// ListFunc fetches the current resources of one provider.
type ListFunc func(ctx context.Context) ([]resource.Resource, error)

// ChangeFunc receives the changes a refresh produced for one provider.
type ChangeFunc func(p provider.Kind, diffs []resource.ResourceChange)

type entry struct {
	resources map[string]resource.Resource
	lastSync  time.Time
}

// item is the btree element for the merged view.
type item struct {
	key       string
	createdAt time.Time
}

// newer orders items by CreatedAt descending, ties by key.
func newer(a, b item) bool {
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.After(b.createdAt)
	}
	return a.key < b.key
}

// Cache stores per-provider resource listings.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[provider.Kind]*entry
	index   *btree.BTreeG[item]
	byKey   map[string]resource.Resource

	flights  singleflight.Group
	onChange ChangeFunc
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithChangeHook registers fn to receive the diff of every refresh after
// the first one of a provider.
func WithChangeHook(fn ChangeFunc) Option {
	return func(c *Cache) {
		c.onChange = fn
	}
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[provider.Kind]*entry),
		index:   btree.NewG[item](32, newer),
		byKey:   make(map[string]resource.Resource),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Fresh reports whether p was synced less than TTL before now.
func (c *Cache) Fresh(p provider.Kind, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[p]
	return ok && !e.lastSync.IsZero() && now.Sub(e.lastSync) < c.ttl
}

// Refresh replaces the entry for p with the result of fn, unless the entry
// is fresh and force is false. Concurrent refreshes of one provider share a
// single call to fn. On error the previous entry is kept.
func (c *Cache) Refresh(ctx context.Context, p provider.Kind, force bool, fn ListFunc) error {
	if !force && c.Fresh(p, c.now()) {
		return nil
	}

	_, err, _ := c.flights.Do(string(p), func() (any, error) {
		resources, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		diffs, hadEntry := c.replace(p, resources)
		if hadEntry && len(diffs) > 0 && c.onChange != nil {
			c.onChange(p, diffs)
		}
		return nil, nil
	})
	return err
}

func (c *Cache) replace(p provider.Kind, resources []resource.Resource) ([]resource.ResourceChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, hadEntry := c.entries[p]
	if hadEntry {
		for key := range prev.resources {
			c.unindex(key)
		}
	}

	next := &entry{
		resources: make(map[string]resource.Resource, len(resources)),
		lastSync:  c.now(),
	}
	for _, r := range resources {
		r.Provider = string(p)
		next.resources[resource.Key(r)] = r
	}
	for key, r := range next.resources {
		c.indexResource(key, r)
	}
	c.entries[p] = next

	if !hadEntry {
		return nil, false
	}
	return computeDiff(prev.resources, next.resources), true
}

// Put inserts or replaces one resource in p's entry. An entry created by
// Put has never been synced, so it is not fresh.
func (c *Cache) Put(p provider.Kind, r resource.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Provider = string(p)
	e, ok := c.entries[p]
	if !ok {
		e = &entry{resources: make(map[string]resource.Resource)}
		c.entries[p] = e
	}
	key := resource.Key(r)
	if _, exists := e.resources[key]; exists {
		c.unindex(key)
	}
	e.resources[key] = r
	c.indexResource(key, r)
}

// Remove deletes (p, id) from the cache. It reports whether it was present.
func (c *Cache) Remove(p provider.Kind, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[p]
	if !ok {
		return false
	}
	key := resource.Key(resource.Resource{Provider: string(p), ID: id})
	if _, exists := e.resources[key]; !exists {
		return false
	}
	delete(e.resources, key)
	c.unindex(key)
	return true
}

// Resources returns p's cached resources, newest first.
func (c *Cache) Resources(p provider.Kind) []resource.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []resource.Resource
	c.index.Ascend(func(it item) bool {
		if r := c.byKey[it.key]; r.Provider == string(p) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// All returns every cached resource, newest first.
func (c *Cache) All() []resource.Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]resource.Resource, 0, c.index.Len())
	c.index.Ascend(func(it item) bool {
		out = append(out, c.byKey[it.key])
		return true
	})
	return out
}

// Len returns the number of cached resources.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

// LastSync returns when p was last refreshed successfully.
func (c *Cache) LastSync(p provider.Kind) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[p]
	if !ok || e.lastSync.IsZero() {
		return time.Time{}, false
	}
	return e.lastSync, true
}

// Caller must hold c.mu.
func (c *Cache) indexResource(key string, r resource.Resource) {
	c.byKey[key] = r
	c.index.ReplaceOrInsert(item{key: key, createdAt: r.CreatedAt})
}

// Caller must hold c.mu.
func (c *Cache) unindex(key string) {
	r, ok := c.byKey[key]
	if !ok {
		return
	}
	c.index.Delete(item{key: key, createdAt: r.CreatedAt})
	delete(c.byKey, key)
}
