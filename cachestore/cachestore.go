package cachestore

import (
	"context"
	"errors"
)

var (
	// ErrMiss is returned by Get when the key is absent or has expired.
	ErrMiss = errors.New("cache miss")

	// ErrCorrupt is returned by Get when the stored bytes do not decode into
	// the destination. The entry should be purged.
	ErrCorrupt = errors.New("corrupt cache entry")
)

// Store holds JSON-encoded values under a cache name and key, with a fixed
// TTL chosen at construction.
type Store interface {
	Get(ctx context.Context, name, key string, dst any) error
	Set(ctx context.Context, name, key string, val any) error
	Purge(ctx context.Context, name, key string) error
}
