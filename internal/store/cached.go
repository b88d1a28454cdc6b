package store

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyagen/collectarr/internal/cache"
	"github.com/voyagen/collectarr/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlRules     = 5 * time.Minute
	ttlRule      = 5 * time.Minute
	ttlLatestRun = 30 * time.Second
)

// CachedStore wraps a Store with a Redis caching layer.
// Read-heavy operations are served from cache when possible;
// write operations invalidate the relevant cache keys.
type CachedStore struct {
	inner Store
	cache *cache.Redis
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

// --- cached read operations ---

func (c *CachedStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	const key = "rules:all"
	if v, err := cache.Get[[]models.Rule](ctx, c.cache, key); err == nil {
		return v, nil
	}
	rules, err := c.inner.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, rules, ttlRules); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return rules, nil
}

func (c *CachedStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	key := "rule:" + id
	if v, err := cache.Get[models.Rule](ctx, c.cache, key); err == nil {
		return &v, nil
	}
	rule, err := c.inner.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, rule, ttlRule); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return rule, nil
}

func (c *CachedStore) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	const key = "syncrun:latest"
	if v, err := cache.Get[models.SyncRun](ctx, c.cache, key); err == nil {
		return &v, nil
	}
	run, err := c.inner.LatestSyncRun(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, run, ttlLatestRun); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return run, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	created, err := c.inner.CreateRule(ctx, rule)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, "rules:all")
	return created, nil
}

func (c *CachedStore) UpdateRule(ctx context.Context, id string, rule *models.Rule) (*models.Rule, error) {
	updated, err := c.inner.UpdateRule(ctx, id, rule)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, "rule:"+id, "rules:all")
	return updated, nil
}

func (c *CachedStore) DeleteRule(ctx context.Context, id string) error {
	if err := c.inner.DeleteRule(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, "rule:"+id, "rules:all")
	return nil
}

func (c *CachedStore) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	if err := c.inner.SaveSyncRun(ctx, run); err != nil {
		return err
	}
	c.invalidate(ctx, "syncrun:latest")
	return nil
}

// --- helpers ---

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && err != redis.Nil {
		log.Printf("cache: del %v: %v", keys, err)
	}
}
