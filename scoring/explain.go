package scoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

// EpochReader is what the transparency reads need from governance.
type EpochReader interface {
	CurrentEpoch(ctx context.Context) (*models.GovernanceEpoch, error)
	GetEpoch(ctx context.Context, id uint64) (*models.GovernanceEpoch, error)
}

var ErrPostNotScored = errors.New("post has no score for this epoch")

const (
	DefaultWhatIfLimit = 50
	MaxWhatIfLimit     = 100

	// bound on rows re-ranked by a what-if query
	maxWhatIfRows = 10_000
)

// Transparency answers read-only questions about stored scores.
type Transparency struct {
	db     *gorm.DB
	epochs EpochReader
}

func NewTransparency(db *gorm.DB, epochs EpochReader) *Transparency {
	return &Transparency{db: db, epochs: epochs}
}

type Component struct {
	Name     string  `json:"name"`
	Raw      float64 `json:"raw"`
	Weight   float64 `json:"weight"`
	Weighted float64 `json:"weighted"`
}

type Explanation struct {
	PostURI  string    `json:"uri"`
	EpochID  uint64    `json:"epochId"`
	RunID    string    `json:"runId"`
	ScoredAt time.Time `json:"scoredAt"`

	Components []Component `json:"components"`
	Total      float64     `json:"total"`

	// 1-based positions among the posts of the latest run; 0 when the post
	// was not part of that run
	Rank           int `json:"rank"`
	EngagementRank int `json:"engagementRank"`
	RunSize        int `json:"runSize"`
}

func Components(row *models.ScoredPost) []Component {
	raw, weighted, w := row.RawScores(), row.WeightedScores(), row.Weights().Array()
	out := make([]Component, models.NumComponents)
	for i := range out {
		out[i] = Component{Name: models.ComponentNames[i], Raw: raw[i], Weight: w[i], Weighted: weighted[i]}
	}
	return out
}

func (t *Transparency) resolveEpoch(ctx context.Context, epochID uint64) (*models.GovernanceEpoch, error) {
	if epochID == 0 {
		return t.epochs.CurrentEpoch(ctx)
	}
	return t.epochs.GetEpoch(ctx, epochID)
}

// latestRunID is the run that most recently wrote rows for the epoch.
func (t *Transparency) latestRunID(ctx context.Context, epochID uint64) (string, error) {
	var row models.ScoredPost
	err := t.db.WithContext(ctx).Select("run_id").Where("epoch_id = ?", epochID).Order("scored_at DESC").Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("finding latest run: %w", err)
	}
	return row.RunID, nil
}

// Explain breaks down one post's score. epochID 0 means the current epoch.
func (t *Transparency) Explain(ctx context.Context, uri string, epochID uint64) (*Explanation, error) {
	epoch, err := t.resolveEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	var row models.ScoredPost
	if err := t.db.WithContext(ctx).Where("post_uri = ? AND epoch_id = ?", uri, epoch.ID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotScored
		}
		return nil, err
	}
	exp := &Explanation{
		PostURI:    row.PostURI,
		EpochID:    row.EpochID,
		RunID:      row.RunID,
		ScoredAt:   row.ScoredAt,
		Components: Components(&row),
		Total:      row.TotalScore,
	}

	runID, err := t.latestRunID(ctx, epoch.ID)
	if err != nil {
		return nil, err
	}
	if runID == "" || runID != row.RunID {
		return exp, nil
	}
	run := t.db.WithContext(ctx).Model(&models.ScoredPost{}).Where("epoch_id = ? AND run_id = ?", epoch.ID, runID).Session(&gorm.Session{})

	var size, above, engAbove int64
	if err := run.Count(&size).Error; err != nil {
		return nil, err
	}
	if err := run.Where("total_score > ?", row.TotalScore).Count(&above).Error; err != nil {
		return nil, err
	}
	if err := run.Where("engagement_score > ?", row.EngagementScore).Count(&engAbove).Error; err != nil {
		return nil, err
	}
	exp.RunSize = int(size)
	exp.Rank = int(above) + 1
	exp.EngagementRank = int(engAbove) + 1
	return exp, nil
}

type Stats struct {
	EpochID   uint64         `json:"epochId"`
	RunID     string         `json:"runId,omitempty"`
	Weights   models.Weights `json:"weights"`
	LastRun   *RunSummary    `json:"lastRun,omitempty"`
	Posts     int64          `json:"posts"`
	MeanTotal float64        `json:"meanTotal"`

	MeanRaw      map[string]float64 `json:"meanRaw"`
	MeanWeighted map[string]float64 `json:"meanWeighted"`
}

type statsRow struct {
	Posts     int64
	MeanTotal float64

	Recency, Engagement, Bridging, SourceDiversity, Relevance      float64
	RecencyW, EngagementW, BridgingW, SourceDiversityW, RelevanceW float64
}

// Stats summarizes the latest run of an epoch. epochID 0 means the current epoch.
func (t *Transparency) Stats(ctx context.Context, epochID uint64) (*Stats, error) {
	epoch, err := t.resolveEpoch(ctx, epochID)
	if err != nil {
		return nil, err
	}
	out := &Stats{
		EpochID:      epoch.ID,
		Weights:      epoch.LiveWeights(),
		MeanRaw:      map[string]float64{},
		MeanWeighted: map[string]float64{},
	}
	if last, err := LastRun(ctx, t.db); err == nil && last.EpochID == epoch.ID {
		out.LastRun = last
	} else if err != nil && !errors.Is(err, ErrNoRun) {
		return nil, err
	}

	runID, err := t.latestRunID(ctx, epoch.ID)
	if err != nil || runID == "" {
		return out, err
	}
	out.RunID = runID

	var r statsRow
	if err := t.db.WithContext(ctx).Model(&models.ScoredPost{}).
		Select(`COUNT(*) AS posts, COALESCE(AVG(total_score), 0) AS mean_total,
			COALESCE(AVG(recency_score), 0) AS recency, COALESCE(AVG(engagement_score), 0) AS engagement,
			COALESCE(AVG(bridging_score), 0) AS bridging, COALESCE(AVG(source_diversity_score), 0) AS source_diversity,
			COALESCE(AVG(relevance_score), 0) AS relevance,
			COALESCE(AVG(recency_weighted), 0) AS recency_w, COALESCE(AVG(engagement_weighted), 0) AS engagement_w,
			COALESCE(AVG(bridging_weighted), 0) AS bridging_w, COALESCE(AVG(source_diversity_weighted), 0) AS source_diversity_w,
			COALESCE(AVG(relevance_weighted), 0) AS relevance_w`).
		Where("epoch_id = ? AND run_id = ?", epoch.ID, runID).
		Scan(&r).Error; err != nil {
		return nil, fmt.Errorf("computing score stats: %w", err)
	}
	out.Posts = r.Posts
	out.MeanTotal = r.MeanTotal
	raw := [models.NumComponents]float64{r.Recency, r.Engagement, r.Bridging, r.SourceDiversity, r.Relevance}
	weighted := [models.NumComponents]float64{r.RecencyW, r.EngagementW, r.BridgingW, r.SourceDiversityW, r.RelevanceW}
	for i, name := range models.ComponentNames {
		out.MeanRaw[name] = raw[i]
		out.MeanWeighted[name] = weighted[i]
	}
	return out, nil
}

type WhatIfEntry struct {
	PostURI    string  `json:"uri"`
	Total      float64 `json:"total"`
	Rank       int     `json:"rank"`
	ActualRank int     `json:"actualRank"`
}

type WhatIfResult struct {
	EpochID uint64         `json:"epochId"`
	RunID   string         `json:"runId,omitempty"`
	Weights models.Weights `json:"weights"`
	Posts   []WhatIfEntry  `json:"posts"`
}

// WhatIf re-ranks the current epoch's latest run under other weights, from
// the stored raw scores. Nothing is rescored or written.
func (t *Transparency) WhatIf(ctx context.Context, w models.Weights, limit int) (*WhatIfResult, error) {
	norm, err := governance.NormalizeWeights(w)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultWhatIfLimit
	}
	limit = min(limit, MaxWhatIfLimit)

	epoch, err := t.epochs.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	out := &WhatIfResult{EpochID: epoch.ID, Weights: norm, Posts: []WhatIfEntry{}}
	runID, err := t.latestRunID(ctx, epoch.ID)
	if err != nil || runID == "" {
		return out, err
	}
	out.RunID = runID

	var rows []models.ScoredPost
	if err := t.db.WithContext(ctx).
		Where("epoch_id = ? AND run_id = ?", epoch.ID, runID).
		Order("total_score DESC").Order("post_uri ASC").
		Limit(maxWhatIfRows).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading scores: %w", err)
	}

	entries := make([]WhatIfEntry, len(rows))
	wa := norm.Array()
	for i := range rows {
		raw := rows[i].RawScores()
		total := 0.0
		for c := range raw {
			total += raw[c] * wa[c]
		}
		entries[i] = WhatIfEntry{PostURI: rows[i].PostURI, Total: total, ActualRank: i + 1}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total > entries[j].Total
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out.Posts = entries
	return out, nil
}
