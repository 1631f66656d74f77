package reports

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/sirupsen/logrus"
)

// Cache is the external key-value store; config.RedisCache implements it.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, obj any, exp time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// trackedCache remembers every key it wrote so invalidation deletes exactly
// those keys instead of scanning the cache. The set lives in process memory
// only; a restart forgets it, and the TTL then bounds staleness.
type trackedCache struct {
	cache  Cache
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

func newTrackedCache(cache Cache, logger *logrus.Logger) *trackedCache {
	return &trackedCache{
		cache:  cache,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// get treats cache faults as misses.
func (c *trackedCache) get(ctx context.Context, key string, dest any) bool {
	if c.cache == nil {
		return false
	}
	ok, err := c.cache.Get(ctx, key, dest)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"module": "reports",
			"key":    key,
		}).Warn("report cache read failed: " + err.Error())
		return false
	}
	return ok
}

// set stores obj and tracks key; a failed write leaves nothing to track.
func (c *trackedCache) set(ctx context.Context, key string, obj any, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, obj, ttl); err != nil {
		c.logger.WithFields(logrus.Fields{
			"module": "reports",
			"key":    key,
		}).Warn("report cache write failed: " + err.Error())
		return
	}
	c.mu.Lock()
	c.active[key] = struct{}{}
	c.mu.Unlock()
}

// invalidate deletes the keys tracked at call time in one delete call and
// forgets them. Keys written meanwhile stay tracked for the next call.
func (c *trackedCache) invalidate(ctx context.Context) (int, error) {
	keys := c.keys()
	if len(keys) == 0 || c.cache == nil {
		return 0, nil
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		return 0, utils.NewStoreError("delete report cache keys", err)
	}

	c.mu.Lock()
	for _, key := range keys {
		delete(c.active, key)
	}
	c.mu.Unlock()
	return len(keys), nil
}

func (c *trackedCache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.active))
	for key := range c.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// cached serves key from the cache or computes, stores and tracks it.
func cached[T any](ctx context.Context, c *trackedCache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	var hit T
	if c.get(ctx, key, &hit) {
		return hit, true, nil
	}

	result, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	c.set(ctx, key, result, ttl)
	return result, false, nil
}

func logSlowReport(ctx context.Context, logger *logrus.Logger, threshold time.Duration, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d < threshold {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	logger.WithFields(logrus.Fields{
		"module":         "reports",
		"report":         name,
		"ms":             d.Milliseconds(),
		"correlation_id": cid,
		"extra":          extra,
	}).Warn("slow_report")
}
