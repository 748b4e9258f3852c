package main

import (
	"time"

	"github.com/bluesky-social/agora/models"
)

type ProposalView struct {
	Weights         *models.Weights `json:"weights,omitempty"`
	IncludeKeywords []string        `json:"includeKeywords"`
	ExcludeKeywords []string        `json:"excludeKeywords"`
	VoteCount       int64           `json:"voteCount"`
	ComputedAt      *time.Time      `json:"computedAt,omitempty"`
}

type EpochView struct {
	ID              uint64         `json:"id"`
	Phase           models.Phase   `json:"phase"`
	Status          string         `json:"status"`
	Weights         models.Weights `json:"weights"`
	IncludeKeywords []string       `json:"includeKeywords"`
	ExcludeKeywords []string       `json:"excludeKeywords"`

	VotingStartedAt *time.Time `json:"votingStartedAt,omitempty"`
	VotingEndsAt    *time.Time `json:"votingEndsAt,omitempty"`
	AutoTransition  bool       `json:"autoTransition"`
	VoteCount       int64      `json:"voteCount"`

	ScheduledVoteAt              *time.Time `json:"scheduledVoteAt,omitempty"`
	ScheduledVoteDurationSeconds int64      `json:"scheduledVoteDurationSeconds,omitempty"`

	Proposal *ProposalView `json:"proposal,omitempty"`

	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func epochView(e *models.GovernanceEpoch, voteCount int64) *EpochView {
	v := &EpochView{
		ID:                           e.ID,
		Phase:                        e.Phase,
		Status:                       string(e.Status),
		Weights:                      e.LiveWeights(),
		IncludeKeywords:              nonNil(e.IncludeKeywords),
		ExcludeKeywords:              nonNil(e.ExcludeKeywords),
		VotingStartedAt:              e.VotingStartedAt,
		VotingEndsAt:                 e.VotingEndsAt,
		AutoTransition:               e.AutoTransition,
		VoteCount:                    voteCount,
		ScheduledVoteAt:              e.ScheduledVoteAt,
		ScheduledVoteDurationSeconds: e.ScheduledVoteDurationSeconds,
		ApprovedBy:                   e.ApprovedBy,
		ApprovedAt:                   e.ApprovedAt,
		CreatedAt:                    e.CreatedAt,
		ClosedAt:                     e.ClosedAt,
	}
	if e.HasPendingResults() {
		v.Proposal = &ProposalView{
			Weights:         e.ProposedWeights(),
			IncludeKeywords: nonNil(e.ProposedIncludeKeywords),
			ExcludeKeywords: nonNil(e.ProposedExcludeKeywords),
			VoteCount:       e.ResultsVoteCount,
			ComputedAt:      e.ResultsComputedAt,
		}
	}
	return v
}

type VoteView struct {
	EpochID         uint64          `json:"epochId"`
	Weights         *models.Weights `json:"weights,omitempty"`
	IncludeKeywords []string        `json:"includeKeywords"`
	ExcludeKeywords []string        `json:"excludeKeywords"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func voteView(v *models.Vote) *VoteView {
	return &VoteView{
		EpochID:         v.EpochID,
		Weights:         v.Weights(),
		IncludeKeywords: nonNil(v.IncludeKeywords),
		ExcludeKeywords: nonNil(v.ExcludeKeywords),
		UpdatedAt:       v.UpdatedAt,
	}
}

type AuditEntryView struct {
	ID        uint64         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor,omitempty"`
	EpochID   *uint64        `json:"epochId,omitempty"`
	Details   models.JSONMap `json:"details,omitempty"`
}

func auditViews(entries []models.AuditLogEntry) []AuditEntryView {
	out := make([]AuditEntryView, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryView{
			ID:        e.ID,
			CreatedAt: e.CreatedAt,
			Action:    e.Action,
			Actor:     e.Actor,
			EpochID:   e.EpochID,
			Details:   e.Details,
		}
	}
	return out
}
