package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, Policy) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewRedisLimiter(RedisLimiterConfig{Client: client})
	require.NoError(t, err)
	return limiter, server
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	limiter, err := NewMemoryLimiter(MemoryLimiterConfig{Clock: clock.Now})
	require.NoError(t, err)
	policy := Policy{Limit: 3, Window: time.Minute}
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		decision, err := limiter.Allow(ctx, "like:1.2.3.4", policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d", attempt)
		assert.Equal(t, attempt, decision.Count)
	}

	clock.Advance(20 * time.Second)
	decision, err := limiter.Allow(ctx, "like:1.2.3.4", policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 40*time.Second, decision.RetryAfter)

	other, err := limiter.Allow(ctx, "like:5.6.7.8", policy)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clock.Advance(40 * time.Second)
	decision, err = limiter.Allow(ctx, "like:1.2.3.4", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestMemoryLimiterCountsConcurrentHitsExactly(t *testing.T) {
	limiter, err := NewMemoryLimiter(MemoryLimiterConfig{})
	require.NoError(t, err)
	policy := Policy{Limit: 25, Window: time.Hour}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for worker := 0; worker < 100; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Allow(context.Background(), "comment:9.9.9.9", policy)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, allowed)
}

func TestMemoryLimiterRejectsInvalidPolicy(t *testing.T) {
	limiter, err := NewMemoryLimiter(MemoryLimiterConfig{})
	require.NoError(t, err)

	_, err = limiter.Allow(context.Background(), "k", Policy{Limit: 0, Window: time.Minute})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	limiter, server := newRedisLimiter(t)
	policy := Policy{Limit: 2, Window: 30 * time.Second}
	ctx := context.Background()

	for attempt := 1; attempt <= 2; attempt++ {
		decision, err := limiter.Allow(ctx, "captcha:1.1.1.1", policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, attempt, decision.Count)
	}

	decision, err := limiter.Allow(ctx, "captcha:1.1.1.1", policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 3, decision.Count)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, 30*time.Second)

	assert.True(t, server.Exists(defaultRedisPrefix+"captcha:1.1.1.1"))

	server.FastForward(31 * time.Second)
	decision, err = limiter.Allow(ctx, "captcha:1.1.1.1", policy)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestRedisLimiterSurfacesStoreFailure(t *testing.T) {
	limiter, server := newRedisLimiter(t)
	server.Close()

	_, err := limiter.Allow(context.Background(), "like:1.1.1.1", Policy{Limit: 1, Window: time.Minute})
	assert.Error(t, err)
}

func TestCheckReturnsTypedErrors(t *testing.T) {
	limiter, err := NewMemoryLimiter(MemoryLimiterConfig{})
	require.NoError(t, err)
	policies := Policies{KindComment: {Limit: 10, Window: time.Hour}}
	ctx := context.Background()

	for attempt := 0; attempt < 10; attempt++ {
		require.NoError(t, Check(ctx, limiter, policies, KindComment, "10.0.0.1"))
	}

	err = Check(ctx, limiter, policies, KindComment, "10.0.0.1")
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, KindComment, exceeded.Kind)
	assert.GreaterOrEqual(t, exceeded.RetryAfterSeconds(), 1)

	err = Check(ctx, limiter, policies, KindLike, "10.0.0.1")
	assert.ErrorIs(t, err, ErrUnknownKind)

	err = Check(ctx, failingLimiter{}, policies, KindComment, "10.0.0.1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	require.NoError(t, policies.Validate())
	for _, kind := range Kinds {
		_, ok := policies[kind]
		assert.True(t, ok, "missing policy for %s", kind)
	}
	assert.Equal(t, Policy{Limit: 10, Window: time.Hour}, policies[KindComment])
}

func TestExceededErrorRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, (&ExceededError{RetryAfter: 0}).RetryAfterSeconds())
	assert.Equal(t, 2, (&ExceededError{RetryAfter: 1500 * time.Millisecond}).RetryAfterSeconds())
}
