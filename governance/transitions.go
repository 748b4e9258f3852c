package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

// StartVoting opens a voting window of the given length (zero means the
// configured default) and turns on automatic closing.
func (m *Manager) StartVoting(ctx context.Context, actor string, duration time.Duration) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		e, err := m.startVotingLocked(tx, epoch, actor, duration)
		out = e
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) startVotingLocked(tx *gorm.DB, epoch *models.GovernanceEpoch, actor string, duration time.Duration) (*models.GovernanceEpoch, error) {
	switch epoch.Phase {
	case models.PhaseResults:
		return nil, ErrResultsPending
	case models.PhaseVoting:
		return nil, ErrVotingAlreadyOpen
	}
	d, err := m.votingDuration(duration)
	if err != nil {
		return nil, err
	}

	now := m.now()
	target := epoch
	details := models.JSONMap{}
	if epoch.RoundDecidedAt != nil {
		next, err := m.rollover(tx, epoch, now)
		if err != nil {
			return nil, err
		}
		details["previous_epoch_id"] = epoch.ID
		target = next
	}

	ends := now.Add(d)
	target.Phase = models.PhaseVoting
	target.VotingStartedAt = &now
	target.VotingEndsAt = &ends
	target.AutoTransition = true
	target.ScheduledVoteAt = nil
	target.ScheduledVoteDurationSeconds = 0
	target.SyncStatus()
	if err := tx.Save(target).Error; err != nil {
		return nil, fmt.Errorf("saving epoch: %w", err)
	}

	details["duration_seconds"] = int64(d / time.Second)
	details["ends_at"] = ends.Format(time.RFC3339)
	if err := m.record(tx, change{
		action:  ActionVotingStarted,
		actor:   actor,
		epochID: target.ID,
		details: details,
		event:   models.OutboxVotingStarted,
	}); err != nil {
		return nil, err
	}
	return target, nil
}

// rollover closes a decided epoch and opens a fresh running epoch carrying its live weights and rules.
func (m *Manager) rollover(tx *gorm.DB, epoch *models.GovernanceEpoch, now time.Time) (*models.GovernanceEpoch, error) {
	epoch.Status = models.EpochStatusClosed
	epoch.ClosedAt = &now
	epoch.AutoTransition = false
	if err := tx.Save(epoch).Error; err != nil {
		return nil, fmt.Errorf("closing epoch: %w", err)
	}
	next := &models.GovernanceEpoch{
		CreatedAt:       now,
		Phase:           models.PhaseRunning,
		Status:          models.EpochStatusActive,
		IncludeKeywords: epoch.IncludeKeywords,
		ExcludeKeywords: epoch.ExcludeKeywords,
	}
	next.SetLiveWeights(epoch.LiveWeights())
	if err := tx.Create(next).Error; err != nil {
		return nil, fmt.Errorf("creating epoch: %w", err)
	}
	return next, nil
}

// EndVoting closes the voting window and stores the aggregated ballots as
// pending results. Unless forced, the configured minimum number of ballots is
// required.
func (m *Manager) EndVoting(ctx context.Context, actor string, force bool) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if err := m.endVotingLocked(ctx, tx, epoch, actor, force, false); err != nil {
			return err
		}
		out = epoch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) endVotingLocked(ctx context.Context, tx *gorm.DB, epoch *models.GovernanceEpoch, actor string, force, automatic bool) error {
	if epoch.Phase != models.PhaseVoting {
		if epoch.Phase == models.PhaseResults {
			return ErrResultsPending
		}
		return errorf(CodeWrongPhase, "voting is not open (phase %s)", epoch.Phase)
	}

	votes, err := listVotes(ctx, tx, epoch.ID)
	if err != nil {
		return err
	}
	if !force && len(votes) < m.config.MinVotes {
		return errorf(CodeInsufficientVotes, "%d ballots cast, %d required", len(votes), m.config.MinVotes)
	}
	w, weightBallots, err := AggregateWeights(votes)
	if err != nil {
		return err
	}
	rules, keywordBallots := AggregateContent(votes)

	weightsCarried := w == nil
	if weightsCarried {
		live := epoch.LiveWeights()
		w = &live
	}
	rulesCarried := keywordBallots == 0
	if rulesCarried {
		rules = EpochRules(epoch)
	}

	now := m.now()
	epoch.SetProposedWeights(w)
	epoch.ProposedIncludeKeywords = models.StringList(stringsDetail(rules.Include))
	epoch.ProposedExcludeKeywords = models.StringList(stringsDetail(rules.Exclude))
	epoch.ResultsVoteCount = int64(len(votes))
	epoch.ResultsComputedAt = &now
	epoch.Phase = models.PhaseResults
	epoch.AutoTransition = false
	epoch.SyncStatus()
	if err := tx.Save(epoch).Error; err != nil {
		return fmt.Errorf("saving epoch: %w", err)
	}

	voters := make([]string, len(votes))
	for i := range votes {
		voters[i] = votes[i].VoterDID
	}
	return m.record(tx, change{
		action:  ActionVotingEnded,
		actor:   actor,
		epochID: epoch.ID,
		details: models.JSONMap{
			"vote_count":           len(votes),
			"weight_ballots":       weightBallots,
			"keyword_ballots":      keywordBallots,
			"voters":               voters,
			"proposed_weights":     weightsDetail(*w),
			"proposed_include":     stringsDetail(rules.Include),
			"proposed_exclude":     stringsDetail(rules.Exclude),
			"weights_carried_over": weightsCarried,
			"rules_carried_over":   rulesCarried,
			"forced":               force,
			"automatic":            automatic,
		},
		event: models.OutboxVotingEnded,
	})
}

// ApproveResults makes the pending results live.
func (m *Manager) ApproveResults(ctx context.Context, actor string) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.Phase != models.PhaseResults {
			return errorf(CodeWrongPhase, "no results pending (phase %s)", epoch.Phase)
		}
		now := m.now()
		prev := epoch.LiveWeights()
		if p := epoch.ProposedWeights(); p != nil {
			epoch.SetLiveWeights(*p)
		}
		if epoch.ResultsComputedAt != nil {
			epoch.IncludeKeywords = epoch.ProposedIncludeKeywords
			epoch.ExcludeKeywords = epoch.ProposedExcludeKeywords
		}
		epoch.ClearProposal()
		epoch.ApprovedBy = actor
		epoch.ApprovedAt = &now
		epoch.RoundDecidedAt = &now
		epoch.Phase = models.PhaseRunning
		epoch.SyncStatus()
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionResultsApproved,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{
				"previous_weights": weightsDetail(prev),
				"weights":          weightsDetail(epoch.LiveWeights()),
				"include":          stringsDetail(epoch.IncludeKeywords),
				"exclude":          stringsDetail(epoch.ExcludeKeywords),
				"vote_count":       epoch.ResultsVoteCount,
			},
			event: models.OutboxResultsApproved,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectResults discards the pending results. Live weights and rules are unchanged.
func (m *Manager) RejectResults(ctx context.Context, actor string) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.Phase != models.PhaseResults {
			return errorf(CodeWrongPhase, "no results pending (phase %s)", epoch.Phase)
		}
		details := models.JSONMap{
			"discarded_include": stringsDetail(epoch.ProposedIncludeKeywords),
			"discarded_exclude": stringsDetail(epoch.ProposedExcludeKeywords),
			"vote_count":        epoch.ResultsVoteCount,
		}
		if p := epoch.ProposedWeights(); p != nil {
			details["discarded_weights"] = weightsDetail(*p)
		}
		now := m.now()
		epoch.ClearProposal()
		epoch.RoundDecidedAt = &now
		epoch.Phase = models.PhaseRunning
		epoch.SyncStatus()
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionResultsRejected,
			actor:   actor,
			epochID: epoch.ID,
			details: details,
			event:   models.OutboxResultsRejected,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ForceTransition closes the current epoch in whatever phase it is in and
// opens a new running epoch with the aggregated ballots applied directly.
// Weights and rules are carried over when no ballot supplied them. The
// minimum vote count and results review are skipped.
func (m *Manager) ForceTransition(ctx context.Context, actor string) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		agg, err := aggregateEpoch(ctx, tx, epoch.ID)
		if err != nil {
			return err
		}
		weights := epoch.LiveWeights()
		weightsCarried := agg.Weights == nil
		if !weightsCarried {
			weights = *agg.Weights
		}
		rules := EpochRules(epoch)
		rulesCarried := agg.KeywordBallots == 0
		if !rulesCarried {
			rules = agg.Rules
		}

		now := m.now()
		prevPhase := epoch.Phase
		epoch.Status = models.EpochStatusClosed
		epoch.ClosedAt = &now
		epoch.AutoTransition = false
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("closing epoch: %w", err)
		}

		next := &models.GovernanceEpoch{
			CreatedAt:       now,
			Phase:           models.PhaseRunning,
			Status:          models.EpochStatusActive,
			IncludeKeywords: models.StringList(rules.Include),
			ExcludeKeywords: models.StringList(rules.Exclude),
		}
		next.SetLiveWeights(weights)
		if err := tx.Create(next).Error; err != nil {
			return fmt.Errorf("creating epoch: %w", err)
		}
		out = next
		return m.record(tx, change{
			action:  ActionEpochForced,
			actor:   actor,
			epochID: next.ID,
			details: models.JSONMap{
				"previous_epoch_id":    epoch.ID,
				"previous_phase":       string(prevPhase),
				"vote_count":           agg.VoteCount,
				"weights":              weightsDetail(weights),
				"include":              stringsDetail(rules.Include),
				"exclude":              stringsDetail(rules.Exclude),
				"weights_carried_over": weightsCarried,
				"rules_carried_over":   rulesCarried,
			},
			event: models.OutboxEpochForced,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
