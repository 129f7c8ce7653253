package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process backend used when Redis is not configured,
// mainly for local runs and tests. Entries expire per-key and a janitor
// sweeps them in the background.
type MemoryCache struct {
	inner *gocache.Cache
	counters
}

// NewMemoryCache creates an in-process cache with the given default TTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryCache{inner: gocache.New(defaultTTL, defaultTTL/2)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.inner.Get(key)
	if !ok {
		m.misses.Add(1)
		return "", false, nil
	}
	m.hits.Add(1)
	return v.(string), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.inner.Set(key, value, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.inner.Delete(key)
	return nil
}

func (m *MemoryCache) InvalidatePrefix(_ context.Context, prefix string) (int64, error) {
	var removed int64
	for key := range m.inner.Items() {
		if strings.HasPrefix(key, prefix) {
			m.inner.Delete(key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryCache) Stats() Stats { return m.snapshot() }
