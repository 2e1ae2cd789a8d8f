package comments

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultThreadCacheSize = 512
	defaultThreadCacheTTL  = 2 * time.Minute
)

// ThreadReader assembles threads.
type ThreadReader interface {
	Thread(ctx context.Context, anyID string) (*ThreadNode, error)
}

// ThreadCacheConfig configures the read-through thread cache.
type ThreadCacheConfig struct {
	Reader ThreadReader
	Size   int
	TTL    time.Duration
}

// ThreadCache serves assembled threads from memory. Concurrent misses for the
// same id share one load. Entries are dropped by root id whenever a comment
// event for that thread is published through it, and expire after the TTL.
// A cached tree is only served for ids it still contains.
// Returned trees are shared and must not be modified.
type ThreadCache struct {
	reader  ThreadReader
	trees   *expirable.LRU[string, *ThreadNode]
	roots   *expirable.LRU[string, string]
	loads   singleflight.Group
	version atomic.Uint64
}

// NewThreadCache wraps reader with a cache.
func NewThreadCache(cfg ThreadCacheConfig) *ThreadCache {
	size := cfg.Size
	if size <= 0 {
		size = defaultThreadCacheSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultThreadCacheTTL
	}
	return &ThreadCache{
		reader: cfg.Reader,
		trees:  expirable.NewLRU[string, *ThreadNode](size, nil, ttl),
		roots:  expirable.NewLRU[string, string](size*4, nil, ttl),
	}
}

// Thread implements ThreadReader.
func (c *ThreadCache) Thread(ctx context.Context, anyID string) (*ThreadNode, error) {
	if rootID, ok := c.roots.Get(anyID); ok {
		// a reply hidden after the mapping was stored is no longer in the tree.
		if tree, ok := c.trees.Get(rootID); ok && tree.Contains(anyID) {
			return tree, nil
		}
	}

	value, err, _ := c.loads.Do(anyID, func() (any, error) {
		version := c.version.Load()
		tree, err := c.reader.Thread(ctx, anyID)
		if err != nil {
			return nil, err
		}
		if c.version.Load() == version {
			rootID := tree.Comment.CommentID
			c.trees.Add(rootID, tree)
			c.roots.Add(anyID, rootID)
		}
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*ThreadNode), nil
}

// Invalidate drops the cached tree of a thread.
func (c *ThreadCache) Invalidate(rootID string) {
	c.version.Add(1)
	c.trees.Remove(rootID)
}

// Publish implements events.Publisher so the cache can sit in the event fan-out.
func (c *ThreadCache) Publish(_ context.Context, event events.Event) error {
	switch event.Type {
	case events.TypeCommentModerated, events.TypeCommentDeleted:
		c.roots.Remove(event.CommentID)
	}
	if event.RootID != "" {
		c.Invalidate(event.RootID)
	}
	return nil
}

// EnableThreadCache puts a ThreadCache in front of s and routes every event s
// publishes through it. Call it once, before s serves requests.
func (s *Service) EnableThreadCache(size int, ttl time.Duration) *ThreadCache {
	cache := NewThreadCache(ThreadCacheConfig{Reader: s, Size: size, TTL: ttl})
	s.publisher = events.NewFanout(s.logger, s.publisher, cache)
	return cache
}
