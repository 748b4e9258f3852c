package scoring

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// RankedSet is the published output of one scoring run, best first.
type RankedSet struct {
	RunID    string    `json:"runId"`
	EpochID  uint64    `json:"epochId"`
	ScoredAt time.Time `json:"scoredAt"`
	URIs     []string  `json:"-"`
}

// ErrNoRanking is returned before the first run has been published.
var ErrNoRanking = errors.New("no ranked set published")

// RankStore holds the current ranked set. Publish replaces it atomically;
// readers see either the old or the new set, never a mix.
type RankStore interface {
	Publish(ctx context.Context, set *RankedSet) error
	// Load returns at most limit URIs; limit <= 0 means all of them.
	Load(ctx context.Context, limit int) (*RankedSet, error)
}

type MemRankStore struct {
	lk  sync.RWMutex
	cur *RankedSet
}

func NewMemRankStore() *MemRankStore {
	return &MemRankStore{}
}

func (s *MemRankStore) Publish(ctx context.Context, set *RankedSet) error {
	cp := *set
	cp.URIs = slices.Clone(set.URIs)
	s.lk.Lock()
	s.cur = &cp
	s.lk.Unlock()
	return nil
}

func (s *MemRankStore) Load(ctx context.Context, limit int) (*RankedSet, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	if s.cur == nil {
		return nil, ErrNoRanking
	}
	cp := *s.cur
	uris := s.cur.URIs
	if limit > 0 && len(uris) > limit {
		uris = uris[:limit]
	}
	cp.URIs = slices.Clone(uris)
	return &cp, nil
}
