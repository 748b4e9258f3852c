package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/internal/ticker"
	"github.com/bluesky-social/agora/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
)

type CleanerConfig struct {
	Interval        time.Duration
	ScoreRetention  time.Duration
	OutboxRetention time.Duration
	BatchSize       int
}

func DefaultCleanerConfig() *CleanerConfig {
	return &CleanerConfig{
		Interval:        time.Hour,
		ScoreRetention:  30 * 24 * time.Hour,
		OutboxRetention: 7 * 24 * time.Hour,
		BatchSize:       500,
	}
}

// Cleaner prunes old score rows and settled outbox events.
type Cleaner struct {
	db     *gorm.DB
	epochs EpochSource
	clock  clockwork.Clock
	logger *slog.Logger
	config CleanerConfig
	guard  ticker.Guard
}

func NewCleaner(db *gorm.DB, epochs EpochSource, clock clockwork.Clock, logger *slog.Logger, config *CleanerConfig) *Cleaner {
	if config == nil {
		config = DefaultCleanerConfig()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default().With("system", "cleanup")
	}
	return &Cleaner{db: db, epochs: epochs, clock: clock, logger: logger, config: *config}
}

type CleanupResult struct {
	ScoredPosts  int64
	OutboxEvents int64
}

// Clean runs one pass. Rows of the current epoch are never removed.
func (c *Cleaner) Clean(ctx context.Context) (*CleanupResult, error) {
	now := c.clock.Now().UTC()
	var currentID uint64
	epoch, err := c.epochs.CurrentEpoch(ctx)
	switch {
	case err == nil:
		currentID = epoch.ID
	case errors.Is(err, governance.ErrNoCurrentEpoch):
	default:
		return nil, err
	}

	res := &CleanupResult{}
	scoreCutoff := now.Add(-c.config.ScoreRetention)
	res.ScoredPosts, err = c.deleteBatches(ctx, &models.ScoredPost{}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("scored_at < ? AND epoch_id <> ?", scoreCutoff, currentID)
	})
	if err != nil {
		return res, fmt.Errorf("pruning scored posts: %w", err)
	}
	rowsCleaned.WithLabelValues("scored_post").Add(float64(res.ScoredPosts))

	outboxCutoff := now.Add(-c.config.OutboxRetention)
	res.OutboxEvents, err = c.deleteBatches(ctx, &models.OutboxEvent{}, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("(delivered_at IS NOT NULL AND delivered_at < ?) OR (failed_at IS NOT NULL AND failed_at < ?)", outboxCutoff, outboxCutoff)
	})
	if err != nil {
		return res, fmt.Errorf("pruning outbox events: %w", err)
	}
	rowsCleaned.WithLabelValues("outbox_event").Add(float64(res.OutboxEvents))

	if res.ScoredPosts > 0 || res.OutboxEvents > 0 {
		c.logger.Info("cleanup pass complete", "scored_posts", res.ScoredPosts, "outbox_events", res.OutboxEvents)
	}
	return res, nil
}

// deleteBatches removes matching rows BatchSize at a time, by id.
func (c *Cleaner) deleteBatches(ctx context.Context, model any, filter func(*gorm.DB) *gorm.DB) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var ids []uint64
		if err := filter(c.db.WithContext(ctx).Model(model)).Order("id ASC").Limit(c.config.BatchSize).Pluck("id", &ids).Error; err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := c.db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if len(ids) < c.config.BatchSize {
			return total, nil
		}
	}
}

// RunPeriodically cleans every Interval until ctx is done.
func (c *Cleaner) RunPeriodically(ctx context.Context) error {
	err := ticker.Periodically(ctx, c.clock, c.config.Interval, func(ctx context.Context) error {
		_, err := c.guard.Run(ctx, func(ctx context.Context) error {
			_, err := c.Clean(ctx)
			return err
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("cleanup pass failed", "err", err)
		}
		return nil
	}, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
