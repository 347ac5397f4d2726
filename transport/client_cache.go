package transport

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ClientCache caches *Client instances keyed by a hash of a forwarded
// delegated-credential token, using a time-based-plus-LRU eviction
// policy (see DESIGN.md). Plain requests without a delegated token
// should use a single shared Client rather than this cache.
type ClientCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	timeout  time.Duration
}

type cacheEntry struct {
	key       string
	client    *Client
	expiresAt time.Time
}

// NewClientCache constructs a cache with the given TTL, LRU capacity, and
// per-client HTTP timeout.
func NewClientCache(ttl time.Duration, capacity int, clientTimeout time.Duration) *ClientCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if capacity <= 0 {
		capacity = 128
	}
	return &ClientCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		timeout:  clientTimeout,
	}
}

// HashToken derives the cache key from a delegated-credential token; the
// raw token is never retained in the cache itself.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached client for key if present and unexpired, bumping
// it to most-recently-used.
func (c *ClientCache) Get(key string) (*Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeLocked(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.client, true
}

// GetOrCreate returns the cached client for key, constructing and caching
// a new one via newClient if absent or expired.
func (c *ClientCache) GetOrCreate(key string, newClient func() *Client) *Client {
	if client, ok := c.Get(key); ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		if !time.Now().After(entry.expiresAt) {
			c.order.MoveToFront(el)
			return entry.client
		}
		c.removeLocked(el)
	}

	client := newClient()
	entry := &cacheEntry{key: key, client: client, expiresAt: time.Now().Add(c.ttl)}
	el := c.order.PushFront(entry)
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
	return client
}

func (c *ClientCache) removeLocked(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(el)
}

// Len reports the current number of cached clients, for tests.
func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
