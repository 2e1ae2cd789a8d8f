package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCapacity = 10000

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiterConfig configures the in-process limiter.
type MemoryLimiterConfig struct {
	// Capacity bounds the number of tracked keys; the least recently hit key is evicted first.
	Capacity int
	Clock    func() time.Time
}

// MemoryLimiter keeps fixed-window counters in a bounded LRU. It is suitable
// for a single process; use RedisLimiter when several instances share traffic.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows *lru.Cache[string, window]
	clock   func() time.Time
}

// NewMemoryLimiter constructs an in-process limiter.
func NewMemoryLimiter(cfg MemoryLimiterConfig) (*MemoryLimiter, error) {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	cache, err := lru.New[string, window](capacity)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: memory cache: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLimiter{windows: cache, clock: clock}, nil
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	current, ok := l.windows.Get(key)
	if !ok || !now.Before(current.resetAt) {
		current = window{resetAt: now.Add(policy.Window)}
	}
	current.count++
	l.windows.Add(key, current)

	decision := Decision{Allowed: current.count <= policy.Limit, Count: current.count}
	if !decision.Allowed {
		decision.RetryAfter = current.resetAt.Sub(now)
	}
	return decision, nil
}
