package governance

import (
	"context"
	"fmt"
	"sort"

	"github.com/bluesky-social/agora/contentfilter"
	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

// samples below this size are averaged without trimming
const minTrimSamples = 10

// TrimmedMean sorts a copy of vals and averages it after dropping floor(n/10)
// values from each end. Fewer than ten values are averaged as-is.
func TrimmedMean(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)

	trim := 0
	if n >= minTrimSamples {
		trim = n / 10
	}
	kept := sorted[trim : n-trim]
	var sum float64
	for _, v := range kept {
		sum += v
	}
	return sum / float64(len(kept))
}

// AggregateWeights returns the normalized per-component trimmed mean of every
// ballot carrying a weight vector, and the number of such ballots. Components
// are trimmed independently. Returns nil when no ballot has weights.
func AggregateWeights(votes []models.Vote) (*models.Weights, int, error) {
	var columns [models.NumComponents][]float64
	count := 0
	for i := range votes {
		w := votes[i].Weights()
		if w == nil {
			continue
		}
		count++
		for c, v := range w.Array() {
			columns[c] = append(columns[c], v)
		}
	}
	if count == 0 {
		return nil, 0, nil
	}

	var mean [models.NumComponents]float64
	for c := range columns {
		mean[c] = TrimmedMean(columns[c])
	}
	norm, err := NormalizeWeights(models.WeightsFromArray(mean))
	if err != nil {
		return nil, count, fmt.Errorf("normalizing aggregated weights: %w", err)
	}
	return &norm, count, nil
}

// KeywordThreshold is ceil(0.3 * voters), at least 1, in integer arithmetic.
func KeywordThreshold(voters int) int {
	t := (3*voters + 9) / 10
	if t < 1 {
		return 1
	}
	return t
}

// AggregateContent adopts every keyword named by at least KeywordThreshold of
// the ballots that carry any keyword. Include and exclude lists are counted
// separately; a keyword adopted for both is only kept as an exclude. Returns
// the rules and the number of keyword ballots.
func AggregateContent(votes []models.Vote) (contentfilter.Rules, int) {
	include := map[string]int{}
	exclude := map[string]int{}
	voters := 0
	for i := range votes {
		v := &votes[i]
		if !v.HasKeywords() {
			continue
		}
		voters++
		countKeywords(include, v.IncludeKeywords)
		countKeywords(exclude, v.ExcludeKeywords)
	}
	if voters == 0 {
		return contentfilter.Rules{}, 0
	}

	threshold := KeywordThreshold(voters)
	excl := adopted(exclude, threshold, nil)
	skip := make(map[string]bool, len(excl))
	for _, kw := range excl {
		skip[kw] = true
	}
	incl := adopted(include, threshold, skip)
	return contentfilter.Rules{Include: incl, Exclude: excl}, voters
}

func countKeywords(counts map[string]int, list []string) {
	seen := make(map[string]bool, len(list))
	for _, kw := range list {
		n := contentfilter.NormalizeKeyword(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		counts[n]++
	}
}

func adopted(counts map[string]int, threshold int, skip map[string]bool) []string {
	var out []string
	for kw, c := range counts {
		if c >= threshold && !skip[kw] {
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

// Aggregation is the outcome of tallying one epoch's ballots.
type Aggregation struct {
	VoteCount      int
	WeightBallots  int
	KeywordBallots int

	// nil when no ballot carried weights
	Weights *models.Weights
	Rules   contentfilter.Rules
}

func aggregateEpoch(ctx context.Context, db *gorm.DB, epochID uint64) (*Aggregation, error) {
	votes, err := listVotes(ctx, db, epochID)
	if err != nil {
		return nil, err
	}
	w, wcount, err := AggregateWeights(votes)
	if err != nil {
		return nil, err
	}
	rules, kcount := AggregateContent(votes)
	return &Aggregation{
		VoteCount:      len(votes),
		WeightBallots:  wcount,
		KeywordBallots: kcount,
		Weights:        w,
		Rules:          rules,
	}, nil
}

// AggregateVotes computes consensus weights for an epoch, or nil if no ballot carried weights.
func (m *Manager) AggregateVotes(ctx context.Context, epochID uint64) (*models.Weights, error) {
	agg, err := aggregateEpoch(ctx, m.db, epochID)
	if err != nil {
		return nil, err
	}
	return agg.Weights, nil
}

// AggregateContentVotes computes consensus content rules for an epoch.
func (m *Manager) AggregateContentVotes(ctx context.Context, epochID uint64) (contentfilter.Rules, error) {
	agg, err := aggregateEpoch(ctx, m.db, epochID)
	if err != nil {
		return contentfilter.Rules{}, err
	}
	return agg.Rules, nil
}
