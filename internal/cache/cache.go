package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// Cache is the response cache consulted before the pipeline runs and written
// after a successful run. Get reports a miss with found=false rather than an
// error; errors are reserved for backend failures, which callers treat as a
// miss.
type Cache interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// InvalidatePrefix removes every entry whose key starts with prefix and
	// returns how many were removed.
	InvalidatePrefix(ctx context.Context, prefix string) (int64, error)
	Stats() Stats
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// counters accumulates hit/miss/error totals shared by the backends.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}
