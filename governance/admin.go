package governance

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

type RuleList string

const (
	IncludeList = RuleList("include")
	ExcludeList = RuleList("exclude")
)

func ParseRuleList(s string) (RuleList, error) {
	switch RuleList(s) {
	case IncludeList, ExcludeList:
		return RuleList(s), nil
	}
	return "", errorf(CodeInvalidRequest, "rule list must be %q or %q", IncludeList, ExcludeList)
}

// OverrideWeights normalizes and installs a live weight vector directly, in any phase.
func (m *Manager) OverrideWeights(ctx context.Context, actor string, w models.Weights) (*models.GovernanceEpoch, error) {
	norm, err := NormalizeWeights(w)
	if err != nil {
		return nil, err
	}
	var out *models.GovernanceEpoch
	_, err = m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		prev := epoch.LiveWeights()
		epoch.SetLiveWeights(norm)
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionWeightsOverridden,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{
				"previous_weights": weightsDetail(prev),
				"weights":          weightsDetail(norm),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) AddContentRule(ctx context.Context, actor string, list RuleList, keyword string) (*models.GovernanceEpoch, error) {
	kw, err := ValidateKeyword(keyword)
	if err != nil {
		return nil, err
	}
	var out *models.GovernanceEpoch
	_, err = m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		target, other := ruleLists(epoch, list)
		if slices.Contains(*target, kw) {
			return errorf(CodeDuplicateKeyword, "%q is already an %s keyword", kw, list)
		}
		if slices.Contains(*other, kw) {
			return errorf(CodeDuplicateKeyword, "%q is already a keyword in the other list", kw)
		}
		updated := append(slices.Clone(*target), kw)
		sort.Strings(updated)
		*target = updated
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionContentRuleAdded,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{"list": string(list), "keyword": kw},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) RemoveContentRule(ctx context.Context, actor string, list RuleList, keyword string) (*models.GovernanceEpoch, error) {
	kw, err := ValidateKeyword(keyword)
	if err != nil {
		return nil, err
	}
	var out *models.GovernanceEpoch
	_, err = m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		target, _ := ruleLists(epoch, list)
		idx := slices.Index(*target, kw)
		if idx < 0 {
			return errorf(CodeKeywordNotFound, "%q is not an %s keyword", kw, list)
		}
		*target = slices.Delete(slices.Clone(*target), idx, idx+1)
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionContentRuleRemoved,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{"list": string(list), "keyword": kw},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func ruleLists(epoch *models.GovernanceEpoch, list RuleList) (target, other *models.StringList) {
	if list == ExcludeList {
		return &epoch.ExcludeKeywords, &epoch.IncludeKeywords
	}
	return &epoch.IncludeKeywords, &epoch.ExcludeKeywords
}

// ScheduleVote arranges for the scheduler to open voting at startAt. Only
// allowed while the epoch is running.
func (m *Manager) ScheduleVote(ctx context.Context, actor string, startAt time.Time, duration time.Duration) (*models.GovernanceEpoch, error) {
	d, err := m.votingDuration(duration)
	if err != nil {
		return nil, err
	}
	startAt = startAt.UTC()
	var out *models.GovernanceEpoch
	_, err = m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		switch epoch.Phase {
		case models.PhaseResults:
			return ErrResultsPending
		case models.PhaseVoting:
			return ErrVotingAlreadyOpen
		}
		if !startAt.After(m.now()) {
			return errorf(CodeInvalidRequest, "scheduled start must be in the future")
		}
		epoch.ScheduledVoteAt = &startAt
		epoch.ScheduledVoteDurationSeconds = int64(d / time.Second)
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionVoteScheduled,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{
				"start_at":         startAt.Format(time.RFC3339),
				"duration_seconds": epoch.ScheduledVoteDurationSeconds,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) CancelScheduledVote(ctx context.Context, actor string) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.ScheduledVoteAt == nil {
			return ErrNoScheduledVote
		}
		prev := epoch.ScheduledVoteAt.Format(time.RFC3339)
		epoch.ScheduledVoteAt = nil
		epoch.ScheduledVoteDurationSeconds = 0
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionScheduleCanceled,
			actor:   actor,
			epochID: epoch.ID,
			details: models.JSONMap{"start_at": prev},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
