package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PinStore holds the single post pinned to the top of the first page.
// Get returns "" when nothing is pinned.
type PinStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, uri string) error
	Clear(ctx context.Context) error
}

type MemPinStore struct {
	lk  sync.Mutex
	uri string
}

func NewMemPinStore() *MemPinStore {
	return &MemPinStore{}
}

func (s *MemPinStore) Get(ctx context.Context) (string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.uri, nil
}

func (s *MemPinStore) Set(ctx context.Context, uri string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.uri = uri
	return nil
}

func (s *MemPinStore) Clear(ctx context.Context) error {
	return s.Set(ctx, "")
}

type RedisPinStore struct {
	rdb *redis.Client
	key string
}

func NewRedisPinStore(rdb *redis.Client, prefix string) *RedisPinStore {
	if prefix == "" {
		prefix = "agora"
	}
	return &RedisPinStore{rdb: rdb, key: prefix + ":pin"}
}

func (s *RedisPinStore) Get(ctx context.Context) (string, error) {
	uri, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return uri, err
}

func (s *RedisPinStore) Set(ctx context.Context, uri string) error {
	return s.rdb.Set(ctx, s.key, uri, 0).Err()
}

func (s *RedisPinStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
