package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/class-scheduler-api/pkg/errors"
)

// TombstoneTTL is how long a forgotten key refuses to be refilled. It covers
// a lookup that read the row before the deleting transaction committed.
const TombstoneTTL = 5 * time.Second

// fillScript sets KEYS[1] unless its tombstone KEYS[2] exists.
var fillScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// CacheRepository keeps JSON-encoded catalog rows in Redis under prefix.
type CacheRepository struct {
	client *redis.Client
	prefix string
}

// NewCacheRepository constructs a cache repository. A nil client behaves as
// an always-empty cache.
func NewCacheRepository(client *redis.Client, prefix string) *CacheRepository {
	return &CacheRepository{client: client, prefix: prefix}
}

func (r *CacheRepository) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *CacheRepository) tombstone(k string) string {
	return r.key("tombstone:" + k)
}

// Get unmarshals the cached value into dest, or returns ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Fill stores value for ttl unless key was forgotten within TombstoneTTL.
// It reports whether the value was written.
func (r *CacheRepository) Fill(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	if ttl < time.Millisecond {
		return false, fmt.Errorf("fill %s: ttl %s too short", key, ttl)
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}

	written, err := fillScript.Run(ctx, r.client, []string{r.key(key), r.tombstone(key)}, payload, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis fill %s: %w", key, err)
	}
	return written == 1, nil
}

// Forget deletes the keys and tombstones them in one MULTI/EXEC.
func (r *CacheRepository) Forget(ctx context.Context, keys ...string) error {
	if r.client == nil || len(keys) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		full := make([]string, len(keys))
		for i, k := range keys {
			full[i] = r.key(k)
			pipe.Set(ctx, r.tombstone(k), 1, TombstoneTTL)
		}
		pipe.Del(ctx, full...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis forget: %w", err)
	}
	return nil
}
