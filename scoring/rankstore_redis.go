package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRankStore keeps the ranked URIs in a list and the run metadata in a
// string key. A new set is built under a temporary key and renamed over the
// old one in a single MULTI block.
type RedisRankStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisRankStore(rdb *redis.Client, prefix string) *RedisRankStore {
	if prefix == "" {
		prefix = "agora"
	}
	return &RedisRankStore{rdb: rdb, prefix: prefix}
}

func (s *RedisRankStore) listKey() string { return s.prefix + ":ranked" }
func (s *RedisRankStore) metaKey() string { return s.prefix + ":ranked:meta" }

func (s *RedisRankStore) Publish(ctx context.Context, set *RankedSet) error {
	meta, err := json.Marshal(set)
	if err != nil {
		return err
	}
	tmp := s.listKey() + ":tmp:" + set.RunID
	vals := make([]any, len(set.URIs))
	for i, u := range set.URIs {
		vals[i] = u
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(vals) == 0 {
			pipe.Del(ctx, s.listKey())
		} else {
			pipe.Del(ctx, tmp)
			pipe.RPush(ctx, tmp, vals...)
			pipe.Rename(ctx, tmp, s.listKey())
		}
		pipe.Set(ctx, s.metaKey(), meta, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing ranked set: %w", err)
	}
	return nil
}

func (s *RedisRankStore) Load(ctx context.Context, limit int) (*RankedSet, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	var metaCmd *redis.StringCmd
	var listCmd *redis.StringSliceCmd
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		metaCmd = pipe.Get(ctx, s.metaKey())
		listCmd = pipe.LRange(ctx, s.listKey(), 0, stop)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading ranked set: %w", err)
	}
	raw, err := metaCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRanking
	}
	if err != nil {
		return nil, fmt.Errorf("loading ranked set: %w", err)
	}
	var set RankedSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decoding ranked set metadata: %w", err)
	}
	set.URIs = listCmd.Val()
	return &set, nil
}
