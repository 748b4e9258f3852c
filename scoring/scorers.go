package scoring

import (
	"context"
	"math"
	"time"

	"github.com/bluesky-social/agora/models"
)

// Recency halves every halfLife. Posts dated in the future score 1.
func Recency(createdAt, now time.Time, halfLife time.Duration) float64 {
	age := now.Sub(createdAt)
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// Engagement is log-scaled interaction volume, with reposts and replies
// counting double and triple. Saturates at cap.
func Engagement(likes, reposts, replies int64, cap float64) float64 {
	raw := float64(likes + 2*reposts + 3*replies)
	if raw <= 0 || cap <= 0 {
		return 0
	}
	return clamp01(math.Log1p(raw) / math.Log1p(cap))
}

// Bridging is the Gini-Simpson diversity of a post's engagers, grouped by
// each engager's home author. Fewer than two engagers score 0.
func Bridging(engagers []string, homes map[string]string) float64 {
	if len(engagers) < 2 {
		return 0
	}
	counts := make(map[string]int)
	for _, actor := range engagers {
		home, ok := homes[actor]
		if !ok {
			home = actor
		}
		counts[home]++
	}
	total := float64(len(engagers))
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / total
		sum += p * p
	}
	return clamp01(1 - sum)
}

// HomeAuthors maps each engager to the author they engaged with most. Ties
// go to the lexically smallest author DID.
func HomeAuthors(engagements []models.Engagement, postAuthor map[string]string) map[string]string {
	perActor := make(map[string]map[string]int)
	for _, e := range engagements {
		author, ok := postAuthor[e.PostURI]
		if !ok {
			continue
		}
		m := perActor[e.ActorDID]
		if m == nil {
			m = make(map[string]int)
			perActor[e.ActorDID] = m
		}
		m[author]++
	}
	homes := make(map[string]string, len(perActor))
	for actor, m := range perActor {
		best, bestN := "", 0
		for author, n := range m {
			if n > bestN || (n == bestN && author < best) {
				best, bestN = author, n
			}
		}
		homes[actor] = best
	}
	return homes
}

// SourceDiversity counts posts per author as they stream by. Not safe for
// concurrent use.
type SourceDiversity struct {
	seen map[string]int
}

func NewSourceDiversity() *SourceDiversity {
	return &SourceDiversity{seen: make(map[string]int)}
}

// Next scores the author's next post and records it.
func (s *SourceDiversity) Next(author string) float64 {
	k := s.seen[author]
	s.seen[author] = k + 1
	return 1 / float64(1+k)
}

// RelevanceScorer rates how relevant a post is to the feed's audience, in [0,1].
type RelevanceScorer interface {
	Score(ctx context.Context, post *models.Post) (float64, error)
}

// NeutralRelevance rates every post 0.5.
type NeutralRelevance struct{}

func (NeutralRelevance) Score(ctx context.Context, post *models.Post) (float64, error) {
	return 0.5, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
