package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemStore keeps entries in a bounded in-process LRU. Values are held encoded
// so that callers never share mutable state through the cache.
type MemStore struct {
	data *expirable.LRU[string, []byte]
}

var _ Store = (*MemStore)(nil)

func NewMemStore(capacity int, ttl time.Duration) *MemStore {
	return &MemStore{
		data: expirable.NewLRU[string, []byte](capacity, nil, ttl),
	}
}

func memKey(name, key string) string {
	return name + "/" + key
}

func (s *MemStore) Get(ctx context.Context, name, key string, dst any) error {
	b, ok := s.data.Get(memKey(name, key))
	observeLookup("memory", name, ok)
	if !ok {
		return ErrMiss
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

func (s *MemStore) Set(ctx context.Context, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding %s cache entry: %w", name, err)
	}
	s.data.Add(memKey(name, key), b)
	return nil
}

func (s *MemStore) Purge(ctx context.Context, name, key string) error {
	s.data.Remove(memKey(name, key))
	return nil
}
