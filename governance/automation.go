package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/agora/models"

	"gorm.io/gorm"
)

// StartDueScheduledVote opens voting if a scheduled start time has passed.
// Reports whether voting was opened.
func (m *Manager) StartDueScheduledVote(ctx context.Context) (bool, error) {
	return m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.Phase != models.PhaseRunning || epoch.ScheduledVoteAt == nil {
			return errNoChange
		}
		if m.now().Before(*epoch.ScheduledVoteAt) {
			return errNoChange
		}
		d := time.Duration(epoch.ScheduledVoteDurationSeconds) * time.Second
		_, err := m.startVotingLocked(tx, epoch, SchedulerActor, d)
		return err
	})
}

// AutoCloseExpired ends voting once the window has passed, if automatic
// transitions are on. When too few ballots were cast, automatic transitions
// are switched off instead and an operator has to decide. Reports whether
// voting was closed.
func (m *Manager) AutoCloseExpired(ctx context.Context) (bool, error) {
	closed := false
	_, err := m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.Phase != models.PhaseVoting || !epoch.AutoTransition || epoch.VotingEndsAt == nil {
			return errNoChange
		}
		if m.now().Before(*epoch.VotingEndsAt) {
			return errNoChange
		}

		err := m.endVotingLocked(ctx, tx, epoch, SchedulerActor, false, true)
		if err == nil {
			closed = true
			return nil
		}
		if !errors.Is(err, ErrInsufficientVotes) {
			return err
		}

		count, cerr := countVotes(ctx, tx, epoch.ID)
		if cerr != nil {
			return cerr
		}
		m.logger.Warn("voting window expired without enough ballots, disabling auto-transition",
			"epoch", epoch.ID, "votes", count, "required", m.config.MinVotes)
		epoch.AutoTransition = false
		if err := tx.Save(epoch).Error; err != nil {
			return fmt.Errorf("saving epoch: %w", err)
		}
		return m.record(tx, change{
			action:  ActionAutoTransitionDisabled,
			actor:   SchedulerActor,
			epochID: epoch.ID,
			details: models.JSONMap{
				"reason":     string(CodeInsufficientVotes),
				"vote_count": count,
				"min_votes":  m.config.MinVotes,
			},
		})
	})
	return closed, err
}

// SendReminderIfDue queues the one reminder per epoch once the close of the
// voting window is within the reminder lead time. Reports whether a reminder
// was queued.
func (m *Manager) SendReminderIfDue(ctx context.Context) (bool, error) {
	return m.mutateEpoch(ctx, func(tx *gorm.DB, epoch *models.GovernanceEpoch) error {
		if epoch.Phase != models.PhaseVoting || epoch.VotingEndsAt == nil {
			return errNoChange
		}
		remaining := epoch.VotingEndsAt.Sub(m.now())
		if remaining <= 0 || remaining > m.config.ReminderLead {
			return errNoChange
		}

		var sent int64
		if err := tx.Model(&models.AuditLogEntry{}).
			Where("action = ? AND epoch_id = ?", ActionVotingReminder, epoch.ID).
			Count(&sent).Error; err != nil {
			return fmt.Errorf("checking for earlier reminder: %w", err)
		}
		if sent > 0 {
			return errNoChange
		}

		count, err := countVotes(ctx, tx, epoch.ID)
		if err != nil {
			return err
		}
		return m.record(tx, change{
			action:  ActionVotingReminder,
			actor:   SchedulerActor,
			epochID: epoch.ID,
			details: models.JSONMap{
				"ends_at":         epoch.VotingEndsAt.Format(time.RFC3339),
				"hours_remaining": int64(remaining / time.Hour),
				"vote_count":      count,
			},
			event: models.OutboxVotingReminder,
		})
	})
}
