package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/agora/contentfilter"
	"github.com/bluesky-social/agora/models"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// actor recorded for transitions driven by the scheduler
const SchedulerActor = "system:scheduler"

// RuleInvalidator is told whenever a committed change may have altered the live content rules.
type RuleInvalidator interface {
	Invalidate(ctx context.Context) error
}

type ManagerConfig struct {
	DefaultVotingDuration time.Duration
	MinVotingDuration     time.Duration
	MaxVotingDuration     time.Duration

	// ballots required to end voting without forcing
	MinVotes int

	// how long before the window closes the reminder goes out
	ReminderLead time.Duration

	Clock  clockwork.Clock
	Rules  RuleInvalidator
	Logger *slog.Logger
}

func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		DefaultVotingDuration: 7 * 24 * time.Hour,
		MinVotingDuration:     time.Hour,
		MaxVotingDuration:     30 * 24 * time.Hour,
		MinVotes:              5,
		ReminderLead:          24 * time.Hour,
	}
}

// Manager owns the current governance epoch. Every mutation runs in a single
// transaction which locks the current epoch row, writes one audit entry, and
// queues any announcement in the outbox.
type Manager struct {
	db     *gorm.DB
	config ManagerConfig
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewManager(db *gorm.DB, config *ManagerConfig) *Manager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("system", "governance")
	}
	return &Manager{
		db:     db,
		config: *config,
		clock:  clock,
		logger: logger,
	}
}

func (m *Manager) now() time.Time {
	return m.clock.Now().UTC()
}

func (m *Manager) isPostgres() bool {
	return m.db.Dialector.Name() == "postgres"
}

func (m *Manager) MinVotes() int {
	return m.config.MinVotes
}

// returned from a mutation callback to roll back without reporting an error
var errNoChange = errors.New("no change")

func lockCurrentEpoch(tx *gorm.DB, strength string) (*models.GovernanceEpoch, error) {
	q := tx
	if strength != "" {
		q = q.Clauses(clause.Locking{Strength: strength})
	}
	var epoch models.GovernanceEpoch
	if err := q.Where("status <> ?", models.EpochStatusClosed).Order("id DESC").First(&epoch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCurrentEpoch
		}
		return nil, fmt.Errorf("loading current epoch: %w", err)
	}
	return &epoch, nil
}

// mutateEpoch runs fn against the row-locked current epoch in a serializable
// transaction. Reports whether anything was committed.
func (m *Manager) mutateEpoch(ctx context.Context, fn func(tx *gorm.DB, epoch *models.GovernanceEpoch) error) (bool, error) {
	var opts []*sql.TxOptions
	strength := ""
	if m.isPostgres() {
		// sqlite runs on a single connection, which already serializes writers
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
		strength = "UPDATE"
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		epoch, err := lockCurrentEpoch(tx, strength)
		if err != nil {
			return err
		}
		return fn(tx, epoch)
	}, opts...)
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if m.config.Rules != nil {
		if err := m.config.Rules.Invalidate(ctx); err != nil {
			m.logger.Warn("failed to invalidate content rule cache", "err", err)
		}
	}
	return true, nil
}

type change struct {
	action  string
	actor   string
	epochID uint64
	details models.JSONMap

	// optional announcement
	event models.OutboxEventKind
}

func (m *Manager) record(tx *gorm.DB, c change) error {
	now := m.now()
	epochID := c.epochID
	entry := models.AuditLogEntry{
		CreatedAt: now,
		Action:    c.action,
		Actor:     c.actor,
		EpochID:   &epochID,
		Details:   c.details,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	governanceChanges.WithLabelValues(c.action).Inc()
	if c.event == "" {
		return nil
	}
	payload := models.JSONMap{"audit_id": entry.ID}
	for k, v := range c.details {
		payload[k] = v
	}
	ev := models.OutboxEvent{
		CreatedAt:     now,
		Kind:          c.event,
		EpochID:       c.epochID,
		Payload:       payload,
		NextAttemptAt: now,
	}
	if err := tx.Create(&ev).Error; err != nil {
		return fmt.Errorf("queueing outbox event: %w", err)
	}
	return nil
}

// EnsureEpoch creates the first epoch, with default weights and no content
// rules, if there is no current epoch.
func (m *Manager) EnsureEpoch(ctx context.Context) (*models.GovernanceEpoch, error) {
	var out *models.GovernanceEpoch
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		epoch, err := lockCurrentEpoch(tx, "")
		if err == nil {
			out = epoch
			return nil
		}
		if !errors.Is(err, ErrNoCurrentEpoch) {
			return err
		}
		epoch = &models.GovernanceEpoch{
			CreatedAt: m.now(),
			Phase:     models.PhaseRunning,
			Status:    models.EpochStatusActive,
		}
		epoch.SetLiveWeights(DefaultWeights)
		if err := tx.Create(epoch).Error; err != nil {
			return fmt.Errorf("creating initial epoch: %w", err)
		}
		out = epoch
		return m.record(tx, change{
			action:  ActionEpochCreated,
			actor:   SchedulerActor,
			epochID: epoch.ID,
			details: models.JSONMap{"weights": weightsDetail(DefaultWeights)},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentEpoch reads the current epoch without locking it.
func (m *Manager) CurrentEpoch(ctx context.Context) (*models.GovernanceEpoch, error) {
	return lockCurrentEpoch(m.db.WithContext(ctx), "")
}

func (m *Manager) GetEpoch(ctx context.Context, id uint64) (*models.GovernanceEpoch, error) {
	var epoch models.GovernanceEpoch
	if err := m.db.WithContext(ctx).First(&epoch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorf(CodeEpochNotFound, "epoch %d not found", id)
		}
		return nil, err
	}
	return &epoch, nil
}

// LoadRules returns the live content rules of the current epoch. It is the
// loader behind the content rule cache.
func (m *Manager) LoadRules(ctx context.Context) (contentfilter.Rules, error) {
	epoch, err := m.CurrentEpoch(ctx)
	if err != nil {
		return contentfilter.Rules{}, err
	}
	return EpochRules(epoch), nil
}

func EpochRules(epoch *models.GovernanceEpoch) contentfilter.Rules {
	return contentfilter.Rules{
		Include: []string(epoch.IncludeKeywords),
		Exclude: []string(epoch.ExcludeKeywords),
	}
}

func weightsDetail(w models.Weights) map[string]any {
	out := make(map[string]any, models.NumComponents)
	for i, v := range w.Array() {
		out[models.ComponentNames[i]] = v
	}
	return out
}

func stringsDetail(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func (m *Manager) votingDuration(d time.Duration) (time.Duration, error) {
	if d == 0 {
		d = m.config.DefaultVotingDuration
	}
	if d < m.config.MinVotingDuration || d > m.config.MaxVotingDuration {
		return 0, errorf(CodeInvalidRequest, "voting duration must be between %s and %s", m.config.MinVotingDuration, m.config.MaxVotingDuration)
	}
	return d, nil
}
