package contentfilter

import (
	"context"
	"log/slog"

	"github.com/bluesky-social/agora/cachestore"
)

const (
	ruleCacheName = "content-rules"
	ruleCacheKey  = "current"
)

// RuleLoader reads the authoritative rules, typically from the current epoch row.
type RuleLoader func(ctx context.Context) (Rules, error)

// RuleCache fronts a RuleLoader with a cache store. Lookups never fail: if both
// the cache and the loader are unavailable the empty rule set is returned,
// which lets every post through.
type RuleCache struct {
	loader *cachestore.Loader[Rules]
	logger *slog.Logger
}

func NewRuleCache(store cachestore.Store, load RuleLoader, logger *slog.Logger) *RuleCache {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rulecache")
	return &RuleCache{
		loader: cachestore.NewLoader(store, ruleCacheName, func(ctx context.Context, _ string) (Rules, error) {
			rules, err := load(ctx)
			if err != nil {
				return Rules{}, err
			}
			return rules.Normalized(), nil
		}, logger),
		logger: logger,
	}
}

func (c *RuleCache) Get(ctx context.Context) Rules {
	rules, err := c.loader.Get(ctx, ruleCacheKey)
	if err != nil {
		contentRuleLoadFailures.Inc()
		c.logger.Error("failed to load content rules, filtering disabled for this lookup", "err", err)
		return Rules{}
	}
	return rules
}

// Invalidate drops the cached rules so the next Get reloads them.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	return c.loader.Invalidate(ctx, ruleCacheKey)
}
