package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/pressagent/internal/cache"
	"github.com/mohammad-safakhou/pressagent/internal/memory"
	"github.com/mohammad-safakhou/pressagent/internal/store"
)

// Scheduler runs periodic maintenance: it reports cache effectiveness and
// storage growth on a cron schedule. With Redis available, a short lock
// keeps multiple replicas from reporting the same tick.
type Scheduler struct {
	Cache    cache.Cache
	Sessions *memory.SessionManager
	Store    *store.Store
	Rdb      *redis.Client
	Cron     string
	Logger   *log.Logger
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[MAINT] ", log.LstdFlags)
	}
	expr, err := cronexpr.Parse(s.Cron)
	if err != nil {
		s.Logger.Printf("invalid maintenance cron %q, scheduler disabled: %v", s.Cron, err)
		return
	}

	go func() {
		for {
			next := expr.Next(time.Now())
			if next.IsZero() {
				return
			}
			select {
			case <-s.Stop:
				return
			case <-time.After(time.Until(next)):
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.Rdb != nil {
		ok, _ := s.Rdb.SetNX(ctx, "pressagent:maint:lock", "1", time.Minute).Result()
		if !ok {
			return
		}
	}

	stats := s.Cache.Stats()
	s.Logger.Printf("cache hits=%d misses=%d errors=%d sessions=%d",
		stats.Hits, stats.Misses, stats.Errors, s.Sessions.Count())

	if s.Store != nil {
		counts, err := s.Store.CountRows(ctx)
		if err != nil {
			s.Logger.Printf("storage counts unavailable: %v", err)
			return
		}
		s.Logger.Printf("storage comments=%d knowledge=%d", counts.Comments, counts.Knowledge)
	}
}
