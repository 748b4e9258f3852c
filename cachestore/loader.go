package cachestore

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Loader reads one named cache through a Store, filling misses with load.
// Concurrent misses for the same key share a single load.
type Loader[T any] struct {
	store  Store
	name   string
	load   func(ctx context.Context, key string) (T, error)
	group  singleflight.Group
	logger *slog.Logger
}

func NewLoader[T any](store Store, name string, load func(ctx context.Context, key string) (T, error), logger *slog.Logger) *Loader[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader[T]{
		store:  store,
		name:   name,
		load:   load,
		logger: logger.With("cache", name),
	}
}

// Get returns the cached value for key, loading it on a miss. Store failures
// are logged and fall through to load; only load errors are returned.
func (l *Loader[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	err := l.store.Get(ctx, l.name, key, &v)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, ErrCorrupt):
		l.logger.Warn("dropping corrupt cache entry", "key", key, "err", err)
		if err := l.store.Purge(ctx, l.name, key); err != nil {
			l.logger.Warn("failed to purge corrupt cache entry", "key", key, "err", err)
		}
	case !errors.Is(err, ErrMiss):
		l.logger.Warn("cache read failed", "key", key, "err", err)
	}

	res, err, _ := l.group.Do(key, func() (any, error) {
		v, err := l.load(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := l.store.Set(ctx, l.name, key, v); err != nil {
			l.logger.Warn("failed to populate cache", "key", key, "err", err)
		}
		return v, nil
	})
	if err != nil {
		loadFailures.WithLabelValues(l.name).Inc()
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Invalidate drops key so the next Get reloads it.
func (l *Loader[T]) Invalidate(ctx context.Context, key string) error {
	return l.store.Purge(ctx, l.name, key)
}
