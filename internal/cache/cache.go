// Package cache is the in-process fast mirror of hot task and conversation
// state. Values are cloned on the way in and out so callers never share
// mutable records with the cache.
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zulandar/convoy/internal/models"
)

// Opts configures a Cache.
type Opts struct {
	Size int           // max entries per keyspace; 0 → 50000
	TTL  time.Duration // entry lifetime; 0 → 6h
	Now  func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time // zero means no per-entry expiry
}

// Cache is a TTL key-value store with domain accessors for tasks and
// conversations. A single mutex serialises compound read-modify-write
// operations; it is not shared across processes.
type Cache struct {
	mu sync.Mutex

	conversations *expirable.LRU[string, *models.Conversation]
	tasks         *expirable.LRU[string, *models.Task]
	byRequest     *expirable.LRU[string, []string]
	counters      *expirable.LRU[string, int]
	kv            *expirable.LRU[string, entry]
	active        map[string]struct{}

	now func() time.Time
}

// New creates an empty cache.
func New(opts Opts) *Cache {
	size := opts.Size
	if size <= 0 {
		size = 50000
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		conversations: expirable.NewLRU[string, *models.Conversation](size, nil, ttl),
		tasks:         expirable.NewLRU[string, *models.Task](size, nil, ttl),
		byRequest:     expirable.NewLRU[string, []string](size, nil, ttl),
		counters:      expirable.NewLRU[string, int](size, nil, ttl),
		kv:            expirable.NewLRU[string, entry](size, nil, ttl),
		active:        make(map[string]struct{}),
		now:           now,
	}
}

// Key joins an account id and a record id.
func Key(accountID, id string) string {
	return accountID + ":" + id
}

// Get returns a generic value, honouring its per-entry TTL.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.kv.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.kv.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a generic value. ttl <= 0 means the cache-wide TTL only.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.kv.Add(key, e)
}

// SetIfAbsent stores value only when key is missing or expired, reporting
// whether it was stored.
func (c *Cache) SetIfAbsent(key string, value any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.kv.Get(key); ok {
		if e.expiresAt.IsZero() || c.now().Before(e.expiresAt) {
			return false
		}
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.kv.Add(key, e)
	return true
}

// Delete removes a generic value.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv.Remove(key)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations.Purge()
	c.tasks.Purge()
	c.byRequest.Purge()
	c.counters.Purge()
	c.kv.Purge()
	c.active = make(map[string]struct{})
}

// Close releases the cache's contents at shutdown.
func (c *Cache) Close() error {
	c.Purge()
	return nil
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(slices.Clone(ids), id)
}
