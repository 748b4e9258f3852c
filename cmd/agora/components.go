package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bluesky-social/agora/cachestore"
	"github.com/bluesky-social/agora/contentfilter"
	"github.com/bluesky-social/agora/feed"
	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/internal/lock"
	"github.com/bluesky-social/agora/models"
	"github.com/bluesky-social/agora/scoring"
	"github.com/bluesky-social/agora/util/cliutil"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

var scoringFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "scoring-interval",
		Usage:   "time between scoring runs",
		Value:   5 * time.Minute,
		EnvVars: []string{"AGORA_SCORING_INTERVAL"},
	},
	&cli.DurationFlag{
		Name:    "scoring-window",
		Usage:   "only posts newer than this are scored",
		Value:   48 * time.Hour,
		EnvVars: []string{"AGORA_SCORING_WINDOW"},
	},
	&cli.IntFlag{
		Name:    "scoring-max-posts",
		Value:   10_000,
		EnvVars: []string{"AGORA_SCORING_MAX_POSTS"},
	},
	&cli.IntFlag{
		Name:    "ranked-size",
		Usage:   "number of posts published in the ranked set",
		Value:   1000,
		EnvVars: []string{"AGORA_RANKED_SIZE"},
	},
	&cli.IntFlag{
		Name:    "min-votes",
		Usage:   "ballots required to end voting without forcing",
		Value:   5,
		EnvVars: []string{"AGORA_MIN_VOTES"},
	},
}

// components are the long-lived pieces shared by the server and the operator commands.
type components struct {
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client

	mgr          *governance.Manager
	rules        *contentfilter.RuleCache
	ranks        scoring.RankStore
	pipeline     *scoring.Pipeline
	transparency *scoring.Transparency
	cleaner      *scoring.Cleaner

	redisPrefix     string
	rankedSize      int
	scoringInterval time.Duration
}

func setupComponents(cctx *cli.Context, logger *slog.Logger) (*components, error) {
	ctx := cctx.Context
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cliutil.DatabaseOptions{
		MaxConnections: cctx.Int("max-db-connections"),
		Tracing:        tracingEnabled(),
		Logger:         logger.With("system", "db"),
	})
	if err != nil {
		return nil, err
	}
	if err := models.MigrateDatabase(db); err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if u := cctx.String("redis-url"); u != "" {
		rdb, err = cliutil.SetupRedis(ctx, u)
		if err != nil {
			return nil, err
		}
	}

	scfg := scoring.DefaultConfig()
	scfg.Interval = cctx.Duration("scoring-interval")
	scfg.Window = cctx.Duration("scoring-window")
	scfg.MaxPosts = cctx.Int("scoring-max-posts")
	scfg.TopN = cctx.Int("ranked-size")
	return newComponents(ctx, db, rdb, logger, componentOptions{
		RedisPrefix: cctx.String("redis-prefix"),
		MinVotes:    cctx.Int("min-votes"),
		Scoring:     scfg,
	})
}

type componentOptions struct {
	RedisPrefix string
	MinVotes    int
	Scoring     *scoring.Config
}

// newComponents wires the system around an open database. rdb may be nil, in
// which case shared state lives in process memory.
func newComponents(ctx context.Context, db *gorm.DB, rdb *redis.Client, logger *slog.Logger, opts componentOptions) (*components, error) {
	if opts.Scoring == nil {
		opts.Scoring = scoring.DefaultConfig()
	}
	if opts.RedisPrefix == "" {
		opts.RedisPrefix = "agora"
	}
	c := &components{
		logger:          logger,
		db:              db,
		rdb:             rdb,
		redisPrefix:     opts.RedisPrefix,
		rankedSize:      opts.Scoring.TopN,
		scoringInterval: opts.Scoring.Interval,
	}

	var store cachestore.Store
	if rdb != nil {
		store = cachestore.NewRedisStore(rdb, c.redisPrefix+":", c.scoringInterval)
		c.ranks = scoring.NewRedisRankStore(rdb, c.redisPrefix)
	} else {
		store = cachestore.NewMemStore(16, c.scoringInterval)
		c.ranks = scoring.NewMemRankStore()
	}

	// the rule cache reads through the manager, and the manager invalidates it
	var mgr *governance.Manager
	c.rules = contentfilter.NewRuleCache(store, func(ctx context.Context) (contentfilter.Rules, error) {
		return mgr.LoadRules(ctx)
	}, logger)

	mcfg := governance.DefaultManagerConfig()
	if opts.MinVotes > 0 {
		mcfg.MinVotes = opts.MinVotes
	}
	mcfg.Rules = c.rules
	mcfg.Logger = logger.With("system", "governance")
	mgr = governance.NewManager(db, mcfg)
	c.mgr = mgr
	if _, err := mgr.EnsureEpoch(ctx); err != nil {
		return nil, err
	}

	scoringLogger := logger.With("system", "scoring")
	c.pipeline = scoring.NewPipeline(db, mgr, c.rules, c.ranks, lock.New(rdb, "scoring", lock.DefaultTTL, scoringLogger), scoring.PipelineOptions{
		Logger: scoringLogger,
		Config: opts.Scoring,
	})
	c.transparency = scoring.NewTransparency(db, mgr)
	c.cleaner = scoring.NewCleaner(db, mgr, nil, logger.With("system", "cleanup"), nil)
	return c, nil
}

func (c *components) newFeedService(feedURI string, snapshotTTL time.Duration) *feed.Service {
	fcfg := feed.DefaultConfig()
	fcfg.FeedURI = feedURI
	if snapshotTTL > 0 {
		fcfg.SnapshotTTL = snapshotTTL
	}
	if c.rankedSize > 0 {
		fcfg.MaxSnapshot = c.rankedSize
	}
	var snapshots feed.SnapshotStore
	var pins feed.PinStore
	if c.rdb != nil {
		snapshots = feed.NewRedisSnapshotStore(c.rdb, c.redisPrefix, fcfg.SnapshotTTL)
		pins = feed.NewRedisPinStore(c.rdb, c.redisPrefix)
	}
	return feed.NewService(c.ranks, snapshots, pins, fcfg, c.logger.With("system", "feed"))
}

func (c *components) Close() {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Warn("failed to close redis client", "err", err)
		}
	}
	if sqldb, err := c.db.DB(); err == nil {
		sqldb.Close()
	}
}
