package governance

import (
	"context"
	"fmt"
	"strings"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

const (
	ActionEpochCreated           = "epoch_created"
	ActionVotingStarted          = "voting_started"
	ActionVotingEnded            = "voting_ended"
	ActionResultsApproved        = "results_approved"
	ActionResultsRejected        = "results_rejected"
	ActionEpochForced            = "epoch_forced"
	ActionWeightsOverridden      = "weights_overridden"
	ActionContentRuleAdded       = "content_rule_added"
	ActionContentRuleRemoved     = "content_rule_removed"
	ActionVoteScheduled          = "vote_scheduled"
	ActionScheduleCanceled       = "vote_schedule_canceled"
	ActionAutoTransitionDisabled = "auto_transition_disabled"
	ActionVotingReminder         = "voting_reminder"
	ActionPinSet                 = "pin_set"
	ActionPinCleared             = "pin_cleared"
)

// detail keys holding per-voter data; replaced by counts in public views
var redactedDetailKeys = []string{"voters", "ballots"}

// actor prefixes that are published as-is; any other actor id is dropped
var publicActorPrefixes = []string{"admin:", "system:", "cli:"}

// RedactAuditEntry returns a copy of the entry that is safe to publish.
func RedactAuditEntry(e models.AuditLogEntry) models.AuditLogEntry {
	public := false
	for _, p := range publicActorPrefixes {
		if strings.HasPrefix(e.Actor, p) {
			public = true
			break
		}
	}
	if !public {
		e.Actor = ""
	}
	e.Details = RedactDetails(e.Details)
	return e
}

// RedactDetails replaces per-voter detail keys with counts. The input is not modified.
func RedactDetails(in models.JSONMap) models.JSONMap {
	if in == nil {
		return nil
	}
	details := make(models.JSONMap, len(in))
	for k, v := range in {
		details[k] = v
	}
	for _, k := range redactedDetailKeys {
		v, ok := details[k]
		if !ok {
			continue
		}
		delete(details, k)
		details[k+"_count"] = listLen(v)
	}
	return details
}

func listLen(v any) int {
	switch l := v.(type) {
	case []any:
		return len(l)
	case []string:
		return len(l)
	case map[string]any:
		return len(l)
	default:
		return 0
	}
}

const maxAuditPage = 200

// AuditLog returns the most recent entries, newest first and redacted. A
// non-zero before restricts the page to entries with a smaller id.
func (m *Manager) AuditLog(ctx context.Context, limit int, before uint64) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = 50
	}
	q := m.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if before > 0 {
		q = q.Where("id < ?", before)
	}
	var entries []models.AuditLogEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	for i := range entries {
		entries[i] = RedactAuditEntry(entries[i])
	}
	return entries, nil
}

// AuditLogForEpoch returns every unredacted entry for one epoch, oldest first. For operators only.
func (m *Manager) AuditLogForEpoch(ctx context.Context, epochID uint64) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	if err := m.db.WithContext(ctx).Where("epoch_id = ?", epochID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return entries, nil
}

// RecordAction writes an audit entry, against the current epoch, for an
// operator action that lives outside the epoch row.
func (m *Manager) RecordAction(ctx context.Context, actor, action string, details models.JSONMap) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		epoch, err := lockCurrentEpoch(tx, "")
		if err != nil {
			return err
		}
		return m.record(tx, change{action: action, actor: actor, epochID: epoch.ID, details: details})
	})
}
