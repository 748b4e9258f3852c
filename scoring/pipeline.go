package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bluesky-social/agora/contentfilter"
	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/internal/lock"
	"github.com/bluesky-social/agora/internal/ticker"
	"github.com/bluesky-social/agora/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("scoring")

// EpochSource supplies the epoch whose weights a run applies.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (*models.GovernanceEpoch, error)
}

// RuleSource supplies the live content rules. Implementations fail open.
type RuleSource interface {
	Get(ctx context.Context) contentfilter.Rules
}

// RuleFunc adapts a plain function to RuleSource.
type RuleFunc func(ctx context.Context) contentfilter.Rules

func (f RuleFunc) Get(ctx context.Context) contentfilter.Rules {
	return f(ctx)
}

type Config struct {
	Interval time.Duration
	Timeout  time.Duration

	// candidate posts: created within Window, newest MaxPosts
	Window   time.Duration
	MaxPosts int

	// length of the published ranked set
	TopN int

	HalfLife      time.Duration
	EngagementCap float64
}

func DefaultConfig() *Config {
	return &Config{
		Interval:      5 * time.Minute,
		Timeout:       4 * time.Minute,
		Window:        48 * time.Hour,
		MaxPosts:      10_000,
		TopN:          1000,
		HalfLife:      6 * time.Hour,
		EngagementCap: 1000,
	}
}

var (
	// another process or goroutine holds the scoring lock
	ErrRunInProgress = errors.New("scoring run already in progress")
	ErrNoEpoch       = errors.New("no current epoch to score against")
)

// sqlite caps bound parameters per statement
const queryBatch = 500

type Pipeline struct {
	db        *gorm.DB
	epochs    EpochSource
	rules     RuleSource
	ranks     RankStore
	lock      *lock.Lock
	relevance RelevanceScorer
	filter    *contentfilter.Filter
	clock     clockwork.Clock
	logger    *slog.Logger
	config    Config

	guard ticker.Guard
}

type PipelineOptions struct {
	Relevance RelevanceScorer
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Config    *Config
}

func NewPipeline(db *gorm.DB, epochs EpochSource, rules RuleSource, ranks RankStore, lk *lock.Lock, opts PipelineOptions) *Pipeline {
	if opts.Relevance == nil {
		opts.Relevance = NeutralRelevance{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("system", "scoring")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if lk == nil {
		lk = lock.New(nil, "scoring", 0, opts.Logger)
	}
	return &Pipeline{
		db:        db,
		epochs:    epochs,
		rules:     rules,
		ranks:     ranks,
		lock:      lk,
		relevance: opts.Relevance,
		filter:    contentfilter.NewFilter(),
		clock:     opts.Clock,
		logger:    opts.Logger,
		config:    *opts.Config,
	}
}

// Run performs one scoring cycle under the scoring lock and the configured timeout.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	lease, err := p.lock.TryAcquire(ctx)
	if errors.Is(err, lock.ErrHeld) {
		scoringRuns.WithLabelValues("locked").Inc()
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		// released on a fresh context so a timed-out run still frees the lock
		if err := lease.Release(context.Background()); err != nil {
			p.logger.Warn("failed to release scoring lock", "err", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	sum, err := p.run(ctx)
	switch {
	case errors.Is(err, ErrNoEpoch):
		scoringRuns.WithLabelValues("no_epoch").Inc()
	case err != nil:
		scoringRuns.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		scoringRuns.WithLabelValues("ok").Inc()
		scoringRunDuration.Observe(float64(sum.DurationMs) / 1000)
		span.SetAttributes(
			attribute.String("run_id", sum.RunID),
			attribute.Int64("epoch_id", int64(sum.EpochID)),
			attribute.Int("scored", sum.Scored),
		)
	}
	return sum, err
}

type candidate struct {
	post     *models.Post
	engagers []string
	row      models.ScoredPost
}

func (p *Pipeline) run(ctx context.Context) (*RunSummary, error) {
	start := p.clock.Now().UTC()
	epoch, err := p.epochs.CurrentEpoch(ctx)
	if errors.Is(err, governance.ErrNoCurrentEpoch) {
		p.logger.Warn("skipping scoring run, no current epoch")
		return nil, ErrNoEpoch
	}
	if err != nil {
		return nil, fmt.Errorf("loading current epoch: %w", err)
	}
	weights := epoch.LiveWeights()
	rules := p.rules.Get(ctx)

	var posts []models.Post
	if err := p.db.WithContext(ctx).
		Where("deleted = ? AND created_at >= ?", false, start.Add(-p.config.Window)).
		Order("created_at DESC").Order("uri ASC").
		Limit(p.config.MaxPosts).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("loading candidate posts: %w", err)
	}
	engagements, err := p.loadEngagements(ctx, posts)
	if err != nil {
		return nil, err
	}

	authorOf := make(map[string]string, len(posts))
	for i := range posts {
		authorOf[posts[i].URI] = posts[i].AuthorDID
	}
	homes := HomeAuthors(engagements, authorOf)
	engagers := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, e := range engagements {
		k := [2]string{e.PostURI, e.ActorDID}
		if seen[k] {
			continue
		}
		seen[k] = true
		engagers[e.PostURI] = append(engagers[e.PostURI], e.ActorDID)
	}

	sum := &RunSummary{
		RunID:      uuid.NewString(),
		EpochID:    epoch.ID,
		StartedAt:  start,
		Weights:    weights,
		Candidates: len(posts),
	}
	diversity := NewSourceDiversity()
	scored := make([]candidate, 0, len(posts))
	for i := range posts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		post := &posts[i]
		if res := p.filter.Check(post.Text, rules); !res.Passes {
			sum.Filtered++
			continue
		}
		c := candidate{post: post, engagers: engagers[post.URI]}
		if err := p.scorePost(ctx, &c, diversity, homes, weights, start); err != nil {
			p.logger.Warn("failed to score post", "uri", post.URI, "err", err)
			sum.Failed++
			continue
		}
		c.row.RunID = sum.RunID
		c.row.EpochID = epoch.ID
		scored = append(scored, c)
	}
	postsScored.WithLabelValues("filtered").Add(float64(sum.Filtered))
	postsScored.WithLabelValues("failed").Add(float64(sum.Failed))
	postsScored.WithLabelValues("scored").Add(float64(len(scored)))

	if err := p.storeScores(ctx, scored); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.row.TotalScore != b.row.TotalScore {
			return a.row.TotalScore > b.row.TotalScore
		}
		if !a.post.CreatedAt.Equal(b.post.CreatedAt) {
			return a.post.CreatedAt.After(b.post.CreatedAt)
		}
		return a.post.URI < b.post.URI
	})
	n := min(len(scored), p.config.TopN)
	uris := make([]string, n)
	for i := 0; i < n; i++ {
		uris[i] = scored[i].post.URI
	}
	if err := p.ranks.Publish(ctx, &RankedSet{RunID: sum.RunID, EpochID: epoch.ID, ScoredAt: start, URIs: uris}); err != nil {
		return nil, err
	}

	sum.Scored = len(scored)
	sum.Published = n
	sum.FinishedAt = p.clock.Now().UTC()
	sum.DurationMs = sum.FinishedAt.Sub(start).Milliseconds()
	if err := saveRunSummary(ctx, p.db, sum); err != nil {
		return nil, fmt.Errorf("saving run summary: %w", err)
	}
	p.logger.Info("scoring run complete", "run", sum.RunID, "epoch", epoch.ID,
		"candidates", sum.Candidates, "filtered", sum.Filtered, "failed", sum.Failed,
		"published", sum.Published, "duration_ms", sum.DurationMs)
	return sum, nil
}

func (p *Pipeline) loadEngagements(ctx context.Context, posts []models.Post) ([]models.Engagement, error) {
	var out []models.Engagement
	for i := 0; i < len(posts); i += queryBatch {
		end := min(i+queryBatch, len(posts))
		uris := make([]string, 0, end-i)
		for _, post := range posts[i:end] {
			uris = append(uris, post.URI)
		}
		var batch []models.Engagement
		if err := p.db.WithContext(ctx).Where("post_uri IN ?", uris).Order("id ASC").Find(&batch).Error; err != nil {
			return nil, fmt.Errorf("loading engagements: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// scorePost fills c.row. A panic in a scorer is reported as an error.
func (p *Pipeline) scorePost(ctx context.Context, c *candidate, diversity *SourceDiversity, homes map[string]string, w models.Weights, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panicked: %v", r)
		}
	}()
	post := c.post
	rel, err := p.relevance.Score(ctx, post)
	if err != nil {
		return fmt.Errorf("relevance: %w", err)
	}
	raw := [models.NumComponents]float64{
		Recency(post.CreatedAt, now, p.config.HalfLife),
		Engagement(post.LikeCount, post.RepostCount, post.ReplyCount, p.config.EngagementCap),
		Bridging(c.engagers, homes),
		0,
		clamp01(rel),
	}
	// the author's streak only advances for posts that are actually scored
	raw[3] = diversity.Next(post.AuthorDID)
	c.row = models.ScoredPost{PostURI: post.URI, ScoredAt: now}
	c.row.SetComponents(raw, w)
	return nil
}

var scoreColumns = []string{
	"run_id",
	"recency_score", "engagement_score", "bridging_score", "source_diversity_score", "relevance_score",
	"recency_weight", "engagement_weight", "bridging_weight", "source_diversity_weight", "relevance_weight",
	"recency_weighted", "engagement_weighted", "bridging_weighted", "source_diversity_weighted", "relevance_weighted",
	"total_score", "scored_at",
}

func (p *Pipeline) storeScores(ctx context.Context, scored []candidate) error {
	if len(scored) == 0 {
		return nil
	}
	rows := make([]models.ScoredPost, len(scored))
	for i := range scored {
		rows[i] = scored[i].row
	}
	// 40 rows of 21 columns stay under sqlite's 999 parameter limit
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_uri"}, {Name: "epoch_id"}},
		DoUpdates: clause.AssignmentColumns(scoreColumns),
	}).CreateInBatches(rows, 40).Error
	if err != nil {
		return fmt.Errorf("storing scores: %w", err)
	}
	return nil
}

// RunPeriodically scores every Interval until ctx is done. Overlapping ticks are skipped.
func (p *Pipeline) RunPeriodically(ctx context.Context) error {
	p.logger.Info("starting scoring loop", "interval", p.config.Interval)
	err := ticker.Periodically(ctx, p.clock, p.config.Interval, func(ctx context.Context) error {
		ran, err := p.guard.Run(ctx, func(ctx context.Context) error {
			_, err := p.Run(ctx)
			return err
		})
		if !ran {
			scoringRuns.WithLabelValues("skipped").Inc()
			return nil
		}
		switch {
		case err == nil, errors.Is(err, ErrNoEpoch), errors.Is(err, ErrRunInProgress):
		default:
			p.logger.Error("scoring run failed", "err", err)
		}
		return nil
	}, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
