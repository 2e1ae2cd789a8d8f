package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "commentary:ratelimit:"

var errMissingRedisClient = errors.New("ratelimit: redis client is required")

// incrementWindow counts a hit and starts the window on the first one. It
// returns the new count and the remaining window in milliseconds.
var incrementWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiterConfig configures the shared limiter.
type RedisLimiterConfig struct {
	Client redis.Scripter
	Prefix string
}

// RedisLimiter keeps fixed-window counters in Redis so every instance shares them.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: cfg.Client, prefix: prefix}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	values, err := incrementWindow.Run(ctx, l.client, []string{l.prefix + key}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: increment %s: unexpected reply length %d", key, len(values))
	}

	count := int(values[0])
	decision := Decision{Allowed: count <= policy.Limit, Count: count}
	if !decision.Allowed {
		decision.RetryAfter = time.Duration(values[1]) * time.Millisecond
	}
	return decision, nil
}
