// Package memory is an in-process cache used when Redis is unavailable and
// in tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	body      []byte
	expiresAt time.Time // zero = no expiry
}

// Cache is a mutex-guarded map with per-key expiry.
type Cache struct {
	clock clockwork.Clock

	mu   sync.RWMutex
	data map[string]entry
}

// New returns an empty cache. A nil clock uses real time.
func New(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock, data: make(map[string]entry)}
}

// Get returns a copy of the body, or ok=false if missing or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.data[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), e.body...), true, nil
}

// Set replaces key. ttl <= 0 means no expiry.
func (c *Cache) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	e := entry{body: append([]byte(nil), body...)}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.mu.Lock()
	c.data[key] = e
	c.mu.Unlock()
	return nil
}

func (c *Cache) Ping(context.Context) error { return nil }

// Len returns the number of stored keys, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
