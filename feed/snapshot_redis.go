package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisSnapshotStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SnapshotStore = (*RedisSnapshotStore)(nil)

func NewRedisSnapshotStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisSnapshotStore {
	if prefix == "" {
		prefix = "agora"
	}
	return &RedisSnapshotStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisSnapshotStore) key(id string) string {
	return s.prefix + ":snapshot:" + id
}

func (s *RedisSnapshotStore) Create(ctx context.Context, uris []string) (string, error) {
	id := uuid.NewString()
	vals := make([]any, len(uris))
	for i, u := range uris {
		vals[i] = u
	}
	key := s.key(id)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, vals...)
		pipe.PExpire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("storing feed snapshot: %w", err)
	}
	return id, nil
}

func (s *RedisSnapshotStore) Page(ctx context.Context, id string, offset, limit int) ([]string, int, bool, error) {
	key := s.key(id)
	var lenCmd *redis.IntCmd
	var rangeCmd *redis.StringSliceCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		lenCmd = pipe.LLen(ctx, key)
		rangeCmd = pipe.LRange(ctx, key, int64(offset), int64(offset+limit-1))
		return nil
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading feed snapshot: %w", err)
	}
	total := int(lenCmd.Val())
	if total == 0 {
		return nil, 0, false, nil
	}
	return rangeCmd.Val(), total, true, nil
}
