package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// CatalogCache is the storage behind CacheService.
type CatalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Fill(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, keys ...string) error
}

// CacheService fronts the catalog cache. Cache failures are logged and
// reported as misses so callers always fall back to the store. A nil
// *CacheService is a disabled cache.
type CacheService struct {
	store   CatalogCache
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCacheService constructs a cache service. ttl defaults to ten minutes.
func NewCacheService(store CatalogCache, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *CacheService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{store: store, metrics: metrics, ttl: ttl, logger: logger}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.store != nil
}

// Lookup decodes the cached entry into dest and reports a hit.
func (s *CacheService) Lookup(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	start := time.Now()
	err := s.store.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// Store caches value under key. Keys forgotten moments ago are left empty.
func (s *CacheService) Store(ctx context.Context, key string, value interface{}) {
	if !s.Enabled() {
		return
	}
	start := time.Now()
	written, err := s.store.Fill(ctx, key, value, s.ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	switch {
	case err != nil:
		s.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
	case !written:
		s.logger.Debug("cache fill skipped for recently forgotten key", zap.String("key", key))
	}
}

// Forget evicts keys whose rows were deleted.
func (s *CacheService) Forget(ctx context.Context, keys ...string) {
	if !s.Enabled() {
		return
	}
	if err := s.store.Forget(ctx, keys...); err != nil {
		s.logger.Warn("cache forget failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
