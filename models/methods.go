package models

func (e *GovernanceEpoch) LiveWeights() Weights {
	return Weights{
		Recency:         e.RecencyWeight,
		Engagement:      e.EngagementWeight,
		Bridging:        e.BridgingWeight,
		SourceDiversity: e.SourceDiversityWeight,
		Relevance:       e.RelevanceWeight,
	}
}

func (e *GovernanceEpoch) SetLiveWeights(w Weights) {
	e.RecencyWeight = w.Recency
	e.EngagementWeight = w.Engagement
	e.BridgingWeight = w.Bridging
	e.SourceDiversityWeight = w.SourceDiversity
	e.RelevanceWeight = w.Relevance
}

// Returns nil unless a complete proposed vector is stored.
func (e *GovernanceEpoch) ProposedWeights() *Weights {
	if e.ProposedRecencyWeight == nil || e.ProposedEngagementWeight == nil || e.ProposedBridgingWeight == nil ||
		e.ProposedSourceDiversityWeight == nil || e.ProposedRelevanceWeight == nil {
		return nil
	}
	return &Weights{
		Recency:         *e.ProposedRecencyWeight,
		Engagement:      *e.ProposedEngagementWeight,
		Bridging:        *e.ProposedBridgingWeight,
		SourceDiversity: *e.ProposedSourceDiversityWeight,
		Relevance:       *e.ProposedRelevanceWeight,
	}
}

func (e *GovernanceEpoch) SetProposedWeights(w *Weights) {
	if w == nil {
		e.ProposedRecencyWeight = nil
		e.ProposedEngagementWeight = nil
		e.ProposedBridgingWeight = nil
		e.ProposedSourceDiversityWeight = nil
		e.ProposedRelevanceWeight = nil
		return
	}
	cp := *w
	e.ProposedRecencyWeight = &cp.Recency
	e.ProposedEngagementWeight = &cp.Engagement
	e.ProposedBridgingWeight = &cp.Bridging
	e.ProposedSourceDiversityWeight = &cp.SourceDiversity
	e.ProposedRelevanceWeight = &cp.Relevance
}

// Drops all pending result fields. ResultsVoteCount is kept as history.
func (e *GovernanceEpoch) ClearProposal() {
	e.SetProposedWeights(nil)
	e.ProposedIncludeKeywords = nil
	e.ProposedExcludeKeywords = nil
	e.ResultsComputedAt = nil
}

func (e *GovernanceEpoch) HasPendingResults() bool {
	return e.Phase == PhaseResults && e.ResultsComputedAt != nil
}

func (e *GovernanceEpoch) IsCurrent() bool {
	return e.Status != EpochStatusClosed
}

// SyncStatus derives the legacy status column from the phase. Closed rows are left closed.
func (e *GovernanceEpoch) SyncStatus() {
	if e.Status == EpochStatusClosed {
		return
	}
	switch e.Phase {
	case PhaseVoting, PhaseResults:
		e.Status = EpochStatusVoting
	default:
		e.Status = EpochStatusActive
	}
}

// Returns nil for keyword-only ballots.
func (v *Vote) Weights() *Weights {
	if v.RecencyWeight == nil || v.EngagementWeight == nil || v.BridgingWeight == nil ||
		v.SourceDiversityWeight == nil || v.RelevanceWeight == nil {
		return nil
	}
	return &Weights{
		Recency:         *v.RecencyWeight,
		Engagement:      *v.EngagementWeight,
		Bridging:        *v.BridgingWeight,
		SourceDiversity: *v.SourceDiversityWeight,
		Relevance:       *v.RelevanceWeight,
	}
}

func (v *Vote) SetWeights(w *Weights) {
	if w == nil {
		v.RecencyWeight = nil
		v.EngagementWeight = nil
		v.BridgingWeight = nil
		v.SourceDiversityWeight = nil
		v.RelevanceWeight = nil
		return
	}
	cp := *w
	v.RecencyWeight = &cp.Recency
	v.EngagementWeight = &cp.Engagement
	v.BridgingWeight = &cp.Bridging
	v.SourceDiversityWeight = &cp.SourceDiversity
	v.RelevanceWeight = &cp.Relevance
}

func (v *Vote) HasKeywords() bool {
	return len(v.IncludeKeywords) > 0 || len(v.ExcludeKeywords) > 0
}

func (s *ScoredPost) RawScores() [NumComponents]float64 {
	return [NumComponents]float64{s.RecencyScore, s.EngagementScore, s.BridgingScore, s.SourceDiversityScore, s.RelevanceScore}
}

func (s *ScoredPost) Weights() Weights {
	return Weights{
		Recency:         s.RecencyWeight,
		Engagement:      s.EngagementWeight,
		Bridging:        s.BridgingWeight,
		SourceDiversity: s.SourceDiversityWeight,
		Relevance:       s.RelevanceWeight,
	}
}

func (s *ScoredPost) WeightedScores() [NumComponents]float64 {
	return [NumComponents]float64{s.RecencyWeighted, s.EngagementWeighted, s.BridgingWeighted, s.SourceDiversityWeighted, s.RelevanceWeighted}
}

// SetComponents fills every raw, weight and weighted column and the total.
func (s *ScoredPost) SetComponents(raw [NumComponents]float64, w Weights) {
	wa := w.Array()
	var weighted [NumComponents]float64
	var total float64
	for i := range raw {
		weighted[i] = raw[i] * wa[i]
		total += weighted[i]
	}
	s.RecencyScore, s.EngagementScore, s.BridgingScore, s.SourceDiversityScore, s.RelevanceScore = raw[0], raw[1], raw[2], raw[3], raw[4]
	s.RecencyWeight, s.EngagementWeight, s.BridgingWeight, s.SourceDiversityWeight, s.RelevanceWeight = wa[0], wa[1], wa[2], wa[3], wa[4]
	s.RecencyWeighted, s.EngagementWeighted, s.BridgingWeighted, s.SourceDiversityWeighted, s.RelevanceWeighted = weighted[0], weighted[1], weighted[2], weighted[3], weighted[4]
	s.TotalScore = total
}
