package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares entries across processes. The local TinyLFU tier lives a
// tenth of the redis TTL, so a purge from another process is seen quickly.
type RedisStore struct {
	data   *cache.Cache
	ttl    time.Duration
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	localTTL := max(ttl/10, time.Second)
	return &RedisStore{
		data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(1_000, localTTL),
		}),
		ttl:    ttl,
		prefix: prefix,
	}
}

func (s *RedisStore) key(name, key string) string {
	return s.prefix + "cache/" + name + "/" + key
}

func (s *RedisStore) Get(ctx context.Context, name, key string, dst any) error {
	// raw bytes pass through go-redis/cache untouched; we do our own encoding
	var b []byte
	err := s.data.Get(ctx, s.key(name, key), &b)
	if errors.Is(err, cache.ErrCacheMiss) {
		observeLookup("redis", name, false)
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("reading %s cache entry: %w", name, err)
	}
	observeLookup("redis", name, true)
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func (s *RedisStore) Set(ctx context.Context, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s cache entry: %w", name, err)
	}
	return s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   s.key(name, key),
		Value: b,
		TTL:   s.ttl,
	})
}

func (s *RedisStore) Purge(ctx context.Context, name, key string) error {
	err := s.data.Delete(ctx, s.key(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
