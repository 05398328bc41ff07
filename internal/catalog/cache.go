package catalog

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/lellostore/library/db/redis"
	"github.com/Laisky/lellostore/library/log"
)

// ListCache stores the catalog summary list and the catalog generation.
type ListCache interface {
	GetJSON(ctx context.Context, key string, out any) error
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	GetInt64(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// cachedList is the cached value. Generation is the catalog generation read
// before the list was loaded; the entry is stale once they differ.
type cachedList struct {
	Generation int64        `json:"generation"`
	Apps       []AppSummary `json:"apps"`
}

var (
	_ Store     = new(CachedStore)
	_ ListCache = new(redis.DB)
)

// CachedStore serves ListApps from a cache. Every mutation bumps the catalog
// generation and drops the cached list. Cache failures are logged and fall
// through to the store.
type CachedStore struct {
	Store
	cache  ListCache
	ttl    time.Duration
	logger logSDK.Logger
}

// NewCachedStore wraps store with cache. ttl must be positive.
func NewCachedStore(store Store, cache ListCache, ttl time.Duration, logger logSDK.Logger) (*CachedStore, error) {
	if store == nil || cache == nil {
		return nil, errors.New("store and cache cannot be nil")
	}
	if ttl <= 0 {
		return nil, errors.Errorf("cache ttl must be positive, got %s", ttl)
	}
	if logger == nil {
		logger = log.Logger.Named("catalog_cache")
	}

	return &CachedStore{
		Store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// ListApps returns the cached list when it was built at the current
// catalog generation.
func (c *CachedStore) ListApps(ctx context.Context) ([]AppSummary, error) {
	gen, err := c.cache.GetInt64(ctx, redis.KeyCatalogGeneration)
	if err != nil {
		c.logger.Warn("read catalog generation", zap.Error(err))
		return c.Store.ListApps(ctx)
	}

	var cached cachedList
	err = c.cache.GetJSON(ctx, redis.KeyCatalogApps, &cached)
	switch {
	case err == nil && cached.Generation == gen:
		return cached.Apps, nil
	case err != nil && !errors.Is(err, redis.ErrCacheMiss):
		c.logger.Warn("read catalog cache", zap.Error(err))
	}

	apps, err := c.Store.ListApps(ctx)
	if err != nil {
		return nil, err
	}

	// a mutation that commits after the load above bumps the generation,
	// so this entry is never served past it
	if err = c.cache.SetJSON(ctx, redis.KeyCatalogApps, cachedList{
		Generation: gen,
		Apps:       apps,
	}, c.ttl); err != nil {
		c.logger.Warn("write catalog cache", zap.Error(err))
	}
	return apps, nil
}

// RecordUpload invalidates the cached list after the store call.
func (c *CachedStore) RecordUpload(ctx context.Context, rec *UploadRecord) (bool, error) {
	defer c.invalidate(ctx)
	return c.Store.RecordUpload(ctx, rec)
}

// UpdateApp invalidates the cached list after the store call.
func (c *CachedStore) UpdateApp(ctx context.Context, packageName string, upd AppUpdate) (*App, error) {
	defer c.invalidate(ctx)
	return c.Store.UpdateApp(ctx, packageName, upd)
}

// DeleteApp invalidates the cached list after the store call.
func (c *CachedStore) DeleteApp(ctx context.Context, packageName string) (*App, error) {
	defer c.invalidate(ctx)
	return c.Store.DeleteApp(ctx, packageName)
}

// DeleteVersion invalidates the cached list after the store call.
func (c *CachedStore) DeleteVersion(ctx context.Context, packageName string, versionCode int64) (*DeleteVersionResult, error) {
	defer c.invalidate(ctx)
	return c.Store.DeleteVersion(ctx, packageName, versionCode)
}

func (c *CachedStore) invalidate(ctx context.Context) {
	// the request may already be cancelled, the entry must go anyway
	ctx = context.WithoutCancel(ctx)
	if _, err := c.cache.Incr(ctx, redis.KeyCatalogGeneration); err != nil {
		c.logger.Warn("bump catalog generation", zap.Error(err))
	}
	if err := c.cache.Del(ctx, redis.KeyCatalogApps); err != nil {
		c.logger.Warn("invalidate catalog cache", zap.Error(err))
	}
}
