package client

import (
	"sync"
	"time"
)

// CacheEntry is a verified envelope held in memory. Payload and Signature are
// kept so persisted copies can be re-verified on load.
type CacheEntry struct {
	Envelope  Envelope  `json:"envelope"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// ResultCache is the in-memory verification cache in front of the persistent store
type ResultCache struct {
	entries   map[string]CacheEntry
	mutex     sync.RWMutex
	ttl       time.Duration
	maxSize   int
	hitCount  int64
	missCount int64
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewResultCache creates a cache and starts its cleanup loop
func NewResultCache(ttl time.Duration, maxSize int, cleanupInterval time.Duration, now func() time.Time) *ResultCache {
	if now == nil {
		now = time.Now
	}
	cache := &ResultCache{
		entries:  make(map[string]CacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      now,
		stopChan: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.cleanup(cleanupInterval)
	}

	return cache
}

// Get retrieves the envelope cached for slug
func (c *ResultCache) Get(slug string) (Envelope, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[slug]
	if !exists || !c.now().Before(entry.ExpiresAt) {
		c.missCount++
		return Envelope{}, false
	}

	entry.HitCount++
	c.entries[slug] = entry
	c.hitCount++

	return entry.Envelope, true
}

// Set stores an envelope for slug, expiring at the earlier of the cache TTL and expiresAt
func (c *ResultCache) Set(slug string, env Envelope, expiresAt time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 {
		return
	}

	if _, exists := c.entries[slug]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.now()
	expiry := now.Add(c.ttl)
	if !expiresAt.IsZero() && expiresAt.Before(expiry) {
		expiry = expiresAt
	}
	c.entries[slug] = CacheEntry{
		Envelope:  env,
		CachedAt:  now,
		ExpiresAt: expiry,
	}
}

// Invalidate removes slug from the cache
func (c *ResultCache) Invalidate(slug string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, slug)
}

// GetStats returns cache statistics
func (c *ResultCache) GetStats() map[string]any {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return map[string]any{
		"entries":     len(c.entries),
		"max_size":    c.maxSize,
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *ResultCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop stops the cleanup loop. It is safe to call more than once.
func (c *ResultCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// purgeExpired drops every expired entry
func (c *ResultCache) purgeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *ResultCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopChan:
			return
		}
	}
}
