package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExplain(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, PipelineOptions{})
	seedCorpus(t, env.db)
	ctx := context.Background()
	sum, err := env.pipeline.Run(ctx)
	require.NoError(t, err)

	tr := NewTransparency(env.db, env.mgr)
	exp, err := tr.Explain(ctx, "at://did:plc:alice/app.bsky.feed.post/1", 0)
	require.NoError(t, err)
	assert.Equal(sum.RunID, exp.RunID)
	assert.Equal(1, exp.Rank)
	assert.Equal(1, exp.EngagementRank)
	assert.Equal(3, exp.RunSize)
	require.Len(t, exp.Components, models.NumComponents)
	assert.Equal("recency", exp.Components[0].Name)
	var total float64
	for _, c := range exp.Components {
		assert.InDelta(c.Raw*c.Weight, c.Weighted, 1e-12)
		total += c.Weighted
	}
	assert.InDelta(exp.Total, total, 1e-12)

	exp, err = tr.Explain(ctx, "at://did:plc:alice/app.bsky.feed.post/2", 0)
	require.NoError(t, err)
	assert.Equal(3, exp.Rank)

	_, err = tr.Explain(ctx, "at://did:plc:bob/app.bsky.feed.post/3", 0)
	assert.ErrorIs(err, ErrPostNotScored)
	_, err = tr.Explain(ctx, "at://did:plc:alice/app.bsky.feed.post/1", 999)
	assert.ErrorIs(err, governance.ErrEpochNotFound)
}

func TestExplainStaleRow(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, PipelineOptions{})
	seedCorpus(t, env.db)
	ctx := context.Background()
	_, err := env.pipeline.Run(ctx)
	require.NoError(t, err)

	// the post ages out of the window, so the next run leaves its old row behind
	env.clock.Advance(46*time.Hour + 30*time.Minute)
	_, err = env.pipeline.Run(ctx)
	require.NoError(t, err)

	tr := NewTransparency(env.db, env.mgr)
	exp, err := tr.Explain(ctx, "at://did:plc:dave/app.bsky.feed.post/6", 0)
	require.NoError(t, err)
	assert.Equal(0, exp.Rank)
	assert.Equal(0, exp.RunSize)
}

func TestStats(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, PipelineOptions{})
	tr := NewTransparency(env.db, env.mgr)
	ctx := context.Background()

	stats, err := tr.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Empty(stats.RunID)
	assert.Nil(stats.LastRun)
	assert.Equal(int64(0), stats.Posts)

	seedCorpus(t, env.db)
	sum, err := env.pipeline.Run(ctx)
	require.NoError(t, err)

	stats, err = tr.Stats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(sum.RunID, stats.RunID)
	require.NotNil(t, stats.LastRun)
	assert.Equal(sum.RunID, stats.LastRun.RunID)
	assert.Equal(int64(3), stats.Posts)
	assert.InDelta(0.5, stats.MeanRaw["relevance"], 1e-9)
	assert.InDelta(0.05, stats.MeanWeighted["relevance"], 1e-9)
	assert.Greater(stats.MeanTotal, 0.0)
	assert.True(stats.Weights.ApproxEqual(governance.DefaultWeights, 1e-9))
}

func TestWhatIf(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t, PipelineOptions{})
	seedCorpus(t, env.db)
	ctx := context.Background()
	_, err := env.pipeline.Run(ctx)
	require.NoError(t, err)

	tr := NewTransparency(env.db, env.mgr)
	_, err = tr.WhatIf(ctx, models.Weights{Recency: -1}, 10)
	assert.ErrorIs(err, governance.ErrInvalidWeights)

	// pure engagement: only the first post has any
	res, err := tr.WhatIf(ctx, models.Weights{Engagement: 5}, 10)
	require.NoError(t, err)
	assert.InDelta(1.0, res.Weights.Engagement, 1e-9)
	require.Len(t, res.Posts, 3)
	assert.Equal("at://did:plc:alice/app.bsky.feed.post/1", res.Posts[0].PostURI)
	assert.Equal(1, res.Posts[0].Rank)
	assert.Equal(1, res.Posts[0].ActualRank)

	// pure recency flips the last two
	res, err = tr.WhatIf(ctx, models.Weights{Recency: 1}, 2)
	require.NoError(t, err)
	require.Len(t, res.Posts, 2)
	assert.Equal("at://did:plc:alice/app.bsky.feed.post/2", res.Posts[1].PostURI)
	assert.Equal(2, res.Posts[1].Rank)
	assert.Equal(3, res.Posts[1].ActualRank)

	// nothing was written
	var n int64
	require.NoError(t, env.db.Model(&models.ScoredPost{}).Count(&n).Error)
	assert.Equal(int64(3), n)
}
