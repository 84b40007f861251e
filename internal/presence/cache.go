package presence

import (
	"sync"
	"time"
)

const (
	// DefaultTTL keeps an aggregate fresh enough for a presence feature
	// without refetching on every chat switch.
	DefaultTTL = 30 * time.Second
	// DefaultExtension is granted when a chat view tears down but may be
	// revisited shortly.
	DefaultExtension = 60 * time.Second
)

type cacheEntry struct {
	presence  ChatPresence
	timestamp time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) >= e.ttl
}

// Cache holds recently computed aggregates keyed by chat id. Entries expire
// after their TTL and expired entries read as absent. Instantiate one per
// process (or per test); there is no module-level instance.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached aggregate if present and not expired. Expired
// entries are evicted lazily.
func (c *Cache) Get(chatID string) (ChatPresence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[chatID]
	if !ok {
		return ChatPresence{}, false
	}
	if entry.expired(c.now()) {
		delete(c.entries, chatID)
		return ChatPresence{}, false
	}
	return entry.presence, true
}

// Set inserts or replaces the entry for chatID. Last write wins; the previous
// value is never merged with. A ttl <= 0 falls back to DefaultTTL.
func (c *Cache) Set(chatID string, p ChatPresence, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chatID] = cacheEntry{
		presence:  p,
		timestamp: c.now(),
		ttl:       ttl,
	}
}

// ExtendTTL pushes the effective expiry of an existing entry further out
// without touching the cached value or its timestamp baseline. Absent entries
// are left absent.
func (c *Cache) ExtendTTL(chatID string, extra time.Duration) {
	if extra <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[chatID]
	if !ok {
		return
	}
	entry.ttl += extra
	c.entries[chatID] = entry
}

// Evict removes an entry immediately.
func (c *Cache) Evict(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, chatID)
}

// Len reports the number of stored entries, expired or not. Diagnostic only.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
