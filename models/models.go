package models

import (
	"time"
)

type Phase string

const (
	PhaseRunning = Phase("running")
	PhaseVoting  = Phase("voting")
	PhaseResults = Phase("results")
)

// EpochStatus is the older two-state lifecycle field. It is derived from Phase
// (see GovernanceEpoch.SyncStatus) and only written alongside it.
type EpochStatus string

const (
	EpochStatusActive = EpochStatus("active")
	EpochStatusVoting = EpochStatus("voting")
	EpochStatusClosed = EpochStatus("closed")
)

// GovernanceEpoch is one governance round. Exactly one row has a status other than "closed".
type GovernanceEpoch struct {
	ID uint64 `gorm:"column:id;primarykey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Phase  Phase       `gorm:"column:phase;not null;default:running"`
	Status EpochStatus `gorm:"column:status;not null;default:active;index"`

	// live ranking weights; always normalized
	RecencyWeight         float64 `gorm:"column:recency_weight;not null"`
	EngagementWeight      float64 `gorm:"column:engagement_weight;not null"`
	BridgingWeight        float64 `gorm:"column:bridging_weight;not null"`
	SourceDiversityWeight float64 `gorm:"column:source_diversity_weight;not null"`
	RelevanceWeight       float64 `gorm:"column:relevance_weight;not null"`

	IncludeKeywords StringList `gorm:"column:include_keywords;type:text"`
	ExcludeKeywords StringList `gorm:"column:exclude_keywords;type:text"`

	VotingStartedAt *time.Time `gorm:"column:voting_started_at"`
	VotingEndsAt    *time.Time `gorm:"column:voting_ends_at"`
	AutoTransition  bool       `gorm:"column:auto_transition;default:false"`

	ScheduledVoteAt              *time.Time `gorm:"column:scheduled_vote_at"`
	ScheduledVoteDurationSeconds int64      `gorm:"column:scheduled_vote_duration_seconds;default:0"`

	// pending results; only set while Phase is "results"
	ProposedRecencyWeight         *float64   `gorm:"column:proposed_recency_weight"`
	ProposedEngagementWeight      *float64   `gorm:"column:proposed_engagement_weight"`
	ProposedBridgingWeight        *float64   `gorm:"column:proposed_bridging_weight"`
	ProposedSourceDiversityWeight *float64   `gorm:"column:proposed_source_diversity_weight"`
	ProposedRelevanceWeight       *float64   `gorm:"column:proposed_relevance_weight"`
	ProposedIncludeKeywords       StringList `gorm:"column:proposed_include_keywords;type:text"`
	ProposedExcludeKeywords       StringList `gorm:"column:proposed_exclude_keywords;type:text"`
	ResultsVoteCount              int64      `gorm:"column:results_vote_count;default:0"`
	ResultsComputedAt             *time.Time `gorm:"column:results_computed_at"`

	ApprovedBy string     `gorm:"column:approved_by"`
	ApprovedAt *time.Time `gorm:"column:approved_at"`

	// set once results were approved or rejected. ballots of a decided round
	// are frozen, so the next round opens on a fresh row
	RoundDecidedAt *time.Time `gorm:"column:round_decided_at"`

	ClosedAt *time.Time `gorm:"column:closed_at"`
}

func (GovernanceEpoch) TableName() string {
	return "governance_epoch"
}

// Vote is a single voter's ballot for one epoch. Weight fields are either all set or all nil.
type Vote struct {
	ID uint64 `gorm:"column:id;primarykey"`

	CreatedAt time.Time
	UpdatedAt time.Time

	VoterDID string `gorm:"column:voter_did;uniqueIndex:idx_vote_voter_epoch;not null"`
	EpochID  uint64 `gorm:"column:epoch_id;uniqueIndex:idx_vote_voter_epoch;index;not null"`

	RecencyWeight         *float64 `gorm:"column:recency_weight"`
	EngagementWeight      *float64 `gorm:"column:engagement_weight"`
	BridgingWeight        *float64 `gorm:"column:bridging_weight"`
	SourceDiversityWeight *float64 `gorm:"column:source_diversity_weight"`
	RelevanceWeight       *float64 `gorm:"column:relevance_weight"`

	IncludeKeywords StringList `gorm:"column:include_keywords;type:text"`
	ExcludeKeywords StringList `gorm:"column:exclude_keywords;type:text"`
}

func (Vote) TableName() string {
	return "vote"
}

// AuditLogEntry rows are append-only.
type AuditLogEntry struct {
	ID        uint64    `gorm:"column:id;primarykey"`
	CreatedAt time.Time `gorm:"column:created_at;index"`

	Action  string  `gorm:"column:action;not null;index"`
	Actor   string  `gorm:"column:actor"`
	EpochID *uint64 `gorm:"column:epoch_id;index"`
	Details JSONMap `gorm:"column:details;type:text"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}

// ScoredPost is the decomposed score of one post under one epoch. Rows are
// overwritten by later pipeline runs for the same epoch.
type ScoredPost struct {
	ID uint64 `gorm:"column:id;primarykey"`

	PostURI string `gorm:"column:post_uri;uniqueIndex:idx_scored_post_uri_epoch;not null"`
	EpochID uint64 `gorm:"column:epoch_id;uniqueIndex:idx_scored_post_uri_epoch;index;not null"`
	RunID   string `gorm:"column:run_id;index;not null"`

	RecencyScore         float64 `gorm:"column:recency_score"`
	EngagementScore      float64 `gorm:"column:engagement_score"`
	BridgingScore        float64 `gorm:"column:bridging_score"`
	SourceDiversityScore float64 `gorm:"column:source_diversity_score"`
	RelevanceScore       float64 `gorm:"column:relevance_score"`

	RecencyWeight         float64 `gorm:"column:recency_weight"`
	EngagementWeight      float64 `gorm:"column:engagement_weight"`
	BridgingWeight        float64 `gorm:"column:bridging_weight"`
	SourceDiversityWeight float64 `gorm:"column:source_diversity_weight"`
	RelevanceWeight       float64 `gorm:"column:relevance_weight"`

	RecencyWeighted         float64 `gorm:"column:recency_weighted"`
	EngagementWeighted      float64 `gorm:"column:engagement_weighted"`
	BridgingWeighted        float64 `gorm:"column:bridging_weighted"`
	SourceDiversityWeighted float64 `gorm:"column:source_diversity_weighted"`
	RelevanceWeighted       float64 `gorm:"column:relevance_weighted"`

	TotalScore float64   `gorm:"column:total_score;index"`
	ScoredAt   time.Time `gorm:"column:scored_at;index"`
}

func (ScoredPost) TableName() string {
	return "scored_post"
}

type SystemStatus struct {
	Key       string `gorm:"column:status_key;primarykey"`
	Value     string `gorm:"column:value;type:text"`
	UpdatedAt time.Time
}

func (SystemStatus) TableName() string {
	return "system_status"
}

type OutboxEventKind string

const (
	OutboxVotingStarted   = OutboxEventKind("voting_started")
	OutboxVotingEnded     = OutboxEventKind("voting_ended")
	OutboxResultsApproved = OutboxEventKind("results_approved")
	OutboxResultsRejected = OutboxEventKind("results_rejected")
	OutboxEpochForced     = OutboxEventKind("epoch_forced")
	OutboxVotingReminder  = OutboxEventKind("voting_reminder")
)

// OutboxEvent is a committed governance event waiting to be announced.
type OutboxEvent struct {
	ID        uint64 `gorm:"column:id;primarykey"`
	CreatedAt time.Time

	Kind    OutboxEventKind `gorm:"column:kind;not null"`
	EpochID uint64          `gorm:"column:epoch_id;not null"`
	Payload JSONMap         `gorm:"column:payload;type:text"`

	Attempts      int        `gorm:"column:attempts;default:0"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;index"`
	DeliveredAt   *time.Time `gorm:"column:delivered_at;index"`
	FailedAt      *time.Time `gorm:"column:failed_at"`
	LastError     string     `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string {
	return "outbox_event"
}
