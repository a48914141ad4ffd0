// Package images caches artwork blobs keyed by the upstream image key
// and deduplicates outbound fetch requests for them.
package images

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached image.
type Entry struct {
	ContentType string
	Data        []byte
}

type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	requested map[string]struct{}

	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{
		entries:   make(map[string]Entry),
		requested: make(map[string]struct{}),
	}
}

func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Put stores a fetched image and clears its in-flight marker.
func (c *Cache) Put(key, contentType string, data []byte) {
	c.mu.Lock()
	c.entries[key] = Entry{ContentType: contentType, Data: data}
	delete(c.requested, key)
	c.mu.Unlock()
}

// MarkRequested records that a fetch for key is in flight. It returns
// false when the key is already cached or already requested, so a fetch
// is issued at most once per key no matter how many zone updates
// reference it before the bytes arrive.
func (c *Cache) MarkRequested(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	if _, ok := c.requested[key]; ok {
		return false
	}
	c.requested[key] = struct{}{}
	return true
}

// Wait blocks until the image for key is cached, polling after issuing
// request (which may be nil when a fetch is already in flight).
// Concurrent waiters for the same key collapse onto one request and one
// poll loop. Returns the entry and true, or false on timeout.
func (c *Cache) Wait(ctx context.Context, key string, timeout time.Duration, request func(ctx context.Context) error) (Entry, bool) {
	if e, ok := c.Get(key); ok {
		return e, true
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if c.MarkRequested(key) && request != nil {
			if err := request(ctx); err != nil {
				c.ClearRequested(key)
				return nil, err
			}
		}

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(timeout)
		for {
			select {
			case <-ticker.C:
				if e, ok := c.Get(key); ok {
					return e, nil
				}
			case <-deadline:
				return nil, context.DeadlineExceeded
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	})
	if err != nil {
		return Entry{}, false
	}
	return v.(Entry), true
}

// ClearRequested drops the in-flight marker for key so a later update
// referencing it issues a fresh fetch. Called when a request fails.
func (c *Cache) ClearRequested(key string) {
	c.mu.Lock()
	delete(c.requested, key)
	c.mu.Unlock()
}

// ResetRequested drops every in-flight marker while keeping cached
// entries. Fetches pending on a dead connection are never answered, so
// their keys must become requestable again.
func (c *Cache) ResetRequested() {
	c.mu.Lock()
	c.requested = make(map[string]struct{})
	c.mu.Unlock()
}

// Clear empties the cache and all in-flight markers.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.requested = make(map[string]struct{})
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
