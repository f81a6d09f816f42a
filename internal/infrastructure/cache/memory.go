package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cartsync/backend/internal/domain"
)

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = 10 * time.Minute

// cacheItem represents a single search result set with expiration
type cacheItem struct {
	Candidates []domain.CatalogCandidate
	Expiration time.Time
}

// MemoryCache is a thread-safe in-memory search result cache with TTL
// support. Keys are normalized queries, so "Whole Milk" and "whole  milk"
// share an entry.
type MemoryCache struct {
	data  map[string]cacheItem
	mutex sync.RWMutex
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a new in-memory cache that sweeps expired entries
// every cleanupInterval (DefaultCleanupInterval when zero).
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	cache := &MemoryCache{
		data: make(map[string]cacheItem),
		now:  time.Now,
		stop: make(chan struct{}),
	}

	go cache.cleanupExpired(cleanupInterval)

	return cache
}

// Get retrieves the candidates cached for query
func (c *MemoryCache) Get(ctx context.Context, query string) ([]domain.CatalogCandidate, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.data[cacheKey(query)]
	if !exists {
		return nil, domain.ErrCacheMiss
	}

	// Check if expired
	if c.now().After(item.Expiration) {
		return nil, domain.ErrCacheMiss
	}

	return cloneCandidates(item.Candidates), nil
}

// Set stores candidates for query with TTL
func (c *MemoryCache) Set(ctx context.Context, query string, candidates []domain.CatalogCandidate, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[cacheKey(query)] = cacheItem{
		Candidates: cloneCandidates(candidates),
		Expiration: c.now().Add(ttl),
	}

	return nil
}

// Delete removes the entry for query
func (c *MemoryCache) Delete(ctx context.Context, query string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.data, cacheKey(query))
	return nil
}

// Exists checks if query has a live entry
func (c *MemoryCache) Exists(ctx context.Context, query string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	item, exists := c.data[cacheKey(query)]
	if !exists {
		return false, nil
	}

	return !c.now().After(item.Expiration), nil
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// cleanupExpired removes expired entries from the cache periodically
func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *MemoryCache) evictExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	now := c.now()
	for key, item := range c.data {
		if now.After(item.Expiration) {
			delete(c.data, key)
		}
	}
}

// Size returns the current number of items in the cache (for debugging/monitoring)
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data = make(map[string]cacheItem)
}

func cacheKey(query string) string {
	return domain.NormalizeName(query)
}

func cloneCandidates(in []domain.CatalogCandidate) []domain.CatalogCandidate {
	if in == nil {
		return nil
	}
	out := make([]domain.CatalogCandidate, len(in))
	copy(out, in)
	return out
}
