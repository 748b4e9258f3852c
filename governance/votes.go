package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ballot is what a voter submits. Weights, if present, must contain all five
// components summing to 1.0; keyword lists are optional.
type Ballot struct {
	Weights         *models.Weights `json:"weights,omitempty"`
	IncludeKeywords []string        `json:"includeKeywords,omitempty"`
	ExcludeKeywords []string        `json:"excludeKeywords,omitempty"`

	// components absent from a decoded weights object
	missingWeights []string
}

type ballotWeightsJSON struct {
	Recency         *float64 `json:"recency"`
	Engagement      *float64 `json:"engagement"`
	Bridging        *float64 `json:"bridging"`
	SourceDiversity *float64 `json:"source_diversity"`
	Relevance       *float64 `json:"relevance"`
}

// UnmarshalJSON records which weight components were left out, so that a
// partial vector is rejected by Validate instead of read as zeros.
func (b *Ballot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Weights         *ballotWeightsJSON `json:"weights"`
		IncludeKeywords []string           `json:"includeKeywords"`
		ExcludeKeywords []string           `json:"excludeKeywords"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Ballot{IncludeKeywords: raw.IncludeKeywords, ExcludeKeywords: raw.ExcludeKeywords}
	if raw.Weights == nil {
		return nil
	}
	fields := [models.NumComponents]*float64{
		raw.Weights.Recency,
		raw.Weights.Engagement,
		raw.Weights.Bridging,
		raw.Weights.SourceDiversity,
		raw.Weights.Relevance,
	}
	var a [models.NumComponents]float64
	for i, f := range fields {
		if f == nil {
			b.missingWeights = append(b.missingWeights, models.ComponentNames[i])
			continue
		}
		a[i] = *f
	}
	w := models.WeightsFromArray(a)
	b.Weights = &w
	return nil
}

// Validate checks and normalizes the ballot in place.
func (b *Ballot) Validate() error {
	if len(b.missingWeights) > 0 {
		return errorf(CodeInvalidWeights, "weights must include every component (missing %s)", strings.Join(b.missingWeights, ", "))
	}
	if err := ValidateBallotWeights(b.Weights); err != nil {
		return err
	}
	incl, err := ValidateKeywords(b.IncludeKeywords)
	if err != nil {
		return err
	}
	excl, err := ValidateKeywords(b.ExcludeKeywords)
	if err != nil {
		return err
	}
	for _, kw := range incl {
		for _, x := range excl {
			if kw == x {
				return errorf(CodeInvalidBallot, "%q is in both include and exclude lists", kw)
			}
		}
	}
	if b.Weights == nil && len(incl) == 0 && len(excl) == 0 {
		return errorf(CodeInvalidBallot, "ballot must contain weights or keywords")
	}
	b.IncludeKeywords = incl
	b.ExcludeKeywords = excl
	return nil
}

// CastVote stores the voter's ballot for the current epoch, replacing any
// earlier ballot. Only accepted while voting is open.
func (m *Manager) CastVote(ctx context.Context, voterDID string, ballot Ballot) (*models.Vote, error) {
	if !strings.HasPrefix(voterDID, "did:") {
		return nil, errorf(CodeInvalidBallot, "voter must be identified by a DID")
	}
	if err := ballot.Validate(); err != nil {
		return nil, err
	}

	var opts []*sql.TxOptions
	strength := ""
	if m.isPostgres() {
		// a shared lock lets ballots proceed in parallel, but not alongside a transition
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		strength = "SHARE"
	}

	var out models.Vote
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		epoch, err := lockCurrentEpoch(tx, strength)
		if err != nil {
			return err
		}
		if epoch.Phase != models.PhaseVoting {
			return errorf(CodeVotingClosed, "voting is not open (phase %s)", epoch.Phase)
		}
		now := m.now()
		if epoch.VotingEndsAt != nil && !now.Before(*epoch.VotingEndsAt) {
			return errorf(CodeVotingClosed, "voting window has ended")
		}

		vote := models.Vote{
			CreatedAt:       now,
			UpdatedAt:       now,
			VoterDID:        voterDID,
			EpochID:         epoch.ID,
			IncludeKeywords: models.StringList(ballot.IncludeKeywords),
			ExcludeKeywords: models.StringList(ballot.ExcludeKeywords),
		}
		vote.SetWeights(ballot.Weights)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "voter_did"}, {Name: "epoch_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"recency_weight", "engagement_weight", "bridging_weight", "source_diversity_weight", "relevance_weight",
				"include_keywords", "exclude_keywords", "updated_at",
			}),
		}).Create(&vote).Error; err != nil {
			return fmt.Errorf("storing ballot: %w", err)
		}
		return tx.Where("voter_did = ? AND epoch_id = ?", voterDID, epoch.ID).First(&out).Error
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVote returns the voter's ballot for the current epoch.
func (m *Manager) GetVote(ctx context.Context, voterDID string) (*models.Vote, error) {
	epoch, err := m.CurrentEpoch(ctx)
	if err != nil {
		return nil, err
	}
	var vote models.Vote
	if err := m.db.WithContext(ctx).Where("voter_did = ? AND epoch_id = ?", voterDID, epoch.ID).First(&vote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBallotNotFound
		}
		return nil, err
	}
	return &vote, nil
}

func (m *Manager) CountVotes(ctx context.Context, epochID uint64) (int64, error) {
	return countVotes(ctx, m.db, epochID)
}

func listVotes(ctx context.Context, db *gorm.DB, epochID uint64) ([]models.Vote, error) {
	var votes []models.Vote
	if err := db.WithContext(ctx).Where("epoch_id = ?", epochID).Order("id ASC").Find(&votes).Error; err != nil {
		return nil, fmt.Errorf("listing ballots: %w", err)
	}
	return votes, nil
}

func countVotes(ctx context.Context, db *gorm.DB, epochID uint64) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.Vote{}).Where("epoch_id = ?", epochID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting ballots: %w", err)
	}
	return n, nil
}
