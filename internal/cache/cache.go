// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Entry represents a cached entry with expiration
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// IsExpired reports whether the entry is no longer valid at now
func (e *Entry[T]) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Option configures a [Cache]
type Option func(*config)

type config struct {
	clock quartz.Clock
}

// WithClock sets the clock used for expiry and the cleanup ticker
func WithClock(clock quartz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// Cache is a generic in-memory cache with TTL support. Close must be called
// to stop the cleanup goroutine.
type Cache[K comparable, V any] struct {
	mu       sync.RWMutex
	entries  map[K]*Entry[V]
	ttl      time.Duration
	clock    quartz.Clock
	stopChan chan struct{}
	doneChan chan struct{}
	once     sync.Once
}

// New creates a new cache with the specified TTL
func New[K comparable, V any](ttl time.Duration, options ...Option) *Cache[K, V] {
	cfg := config{clock: quartz.NewReal()}
	for _, opt := range options {
		opt(&cfg)
	}

	c := &Cache[K, V]{
		entries:  make(map[K]*Entry[V]),
		ttl:      ttl,
		clock:    cfg.clock,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value from the cache
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := c.clock.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpired(now) {
		var zero V
		return zero, false
	}

	return entry.Value, true
}

// Set stores a value in the cache with TTL
func (c *Cache[K, V]) Set(key K, value V) {
	expiresAt := c.clock.Now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[V]{
		Value:     value,
		ExpiresAt: expiresAt,
	}
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Errors from load are returned and not cached. Concurrent misses may
// each call load; the last one to finish wins.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes a value from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*Entry[V])
}

// Size returns the number of entries in the cache, expired or not
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Close stops the cleanup goroutine and waits for it to exit
func (c *Cache[K, V]) Close() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	<-c.doneChan
}

func (c *Cache[K, V]) cleanupLoop() {
	defer close(c.doneChan)

	ticker := c.clock.NewTicker(c.ttl, "cache", "cleanup")
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cache[K, V]) cleanup() {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
		}
	}
}
