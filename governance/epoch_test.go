package governance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bluesky-social/agora/internal/testutil"
	"github.com/bluesky-social/agora/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
)

type countingInvalidator struct {
	calls atomic.Int64
}

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

type testEnv struct {
	mgr   *Manager
	db    *gorm.DB
	clock clockwork.FakeClock
	rules *countingInvalidator
}

func newTestManager(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.TestDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	rules := &countingInvalidator{}
	config := DefaultManagerConfig()
	config.Clock = clock
	config.Rules = rules
	config.MinVotes = 5
	mgr := NewManager(db, config)

	_, err := mgr.EnsureEpoch(context.Background())
	require.NoError(t, err)
	return &testEnv{mgr: mgr, db: db, clock: clock, rules: rules}
}

func (env *testEnv) auditActions(t *testing.T, action string) []models.AuditLogEntry {
	t.Helper()
	var entries []models.AuditLogEntry
	require.NoError(t, env.db.Where("action = ?", action).Order("id ASC").Find(&entries).Error)
	return entries
}

func (env *testEnv) outboxKinds(t *testing.T) []models.OutboxEventKind {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, env.db.Order("id ASC").Find(&events).Error)
	out := make([]models.OutboxEventKind, len(events))
	for i := range events {
		out[i] = events[i].Kind
	}
	return out
}

func weightBallot(w [5]float64) Ballot {
	ww := models.WeightsFromArray(w)
	return Ballot{Weights: &ww}
}

// twelve ballots whose per-component trimmed means are 0.5/0.2/0.1/0.1/0.1
func castTwelve(t *testing.T, mgr *Manager) {
	t.Helper()
	recency := []float64{0.40, 0.45, 0.48, 0.49, 0.50, 0.50, 0.50, 0.50, 0.51, 0.52, 0.55, 0.60}
	for i, r := range recency {
		_, err := mgr.CastVote(context.Background(), fmt.Sprintf("did:plc:voter%02d", i), weightBallot([5]float64{r, 0.2, 0.1, 0.1, 0.6 - r}))
		require.NoError(t, err)
	}
}

func TestEnsureEpochIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	first, err := env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(models.PhaseRunning, first.Phase)
	assert.Equal(models.EpochStatusActive, first.Status)
	assert.True(first.LiveWeights().ApproxEqual(DefaultWeights, 1e-9))
	assert.Empty(first.IncludeKeywords)

	again, err := env.mgr.EnsureEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(first.ID, again.ID)
	assert.Len(env.auditActions(t, ActionEpochCreated), 1)
}

func TestVotingRoundApproved(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	epoch, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	assert.Equal(models.PhaseVoting, epoch.Phase)
	assert.Equal(models.EpochStatusVoting, epoch.Status)
	assert.True(epoch.AutoTransition)
	assert.WithinDuration(env.clock.Now().Add(7*24*time.Hour), *epoch.VotingEndsAt, time.Second)

	castTwelve(t, env.mgr)
	n, err := env.mgr.CountVotes(ctx, epoch.ID)
	require.NoError(t, err)
	assert.Equal(int64(12), n)

	epoch, err = env.mgr.EndVoting(ctx, "admin:alice", false)
	require.NoError(t, err)
	assert.Equal(models.PhaseResults, epoch.Phase)
	assert.Equal(models.EpochStatusVoting, epoch.Status)
	assert.False(epoch.AutoTransition)
	assert.Equal(int64(12), epoch.ResultsVoteCount)
	proposed := epoch.ProposedWeights()
	require.NotNil(t, proposed)
	want := [5]float64{0.5, 0.2, 0.1, 0.1, 0.1}
	for i, v := range proposed.Array() {
		assert.InDelta(want[i], v, 1e-9, "component %s", models.ComponentNames[i])
	}
	// live weights are untouched until approval
	assert.True(epoch.LiveWeights().ApproxEqual(DefaultWeights, 1e-9))

	// ballots are frozen once results are computed
	_, err = env.mgr.CastVote(ctx, "did:plc:late", weightBallot([5]float64{1, 0, 0, 0, 0}))
	assert.ErrorIs(err, ErrVotingClosed)
	_, err = env.mgr.StartVoting(ctx, "admin:alice", 0)
	assert.ErrorIs(err, ErrResultsPending)

	epoch, err = env.mgr.ApproveResults(ctx, "admin:bob")
	require.NoError(t, err)
	assert.Equal(models.PhaseRunning, epoch.Phase)
	assert.Equal(models.EpochStatusActive, epoch.Status)
	assert.Nil(epoch.ProposedWeights())
	assert.Equal("admin:bob", epoch.ApprovedBy)
	assert.NotNil(epoch.RoundDecidedAt)
	for i, v := range epoch.LiveWeights().Array() {
		assert.InDelta(want[i], v, 1e-9)
	}

	stored, err := env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(epoch.ID, stored.ID)
	assert.True(stored.LiveWeights().ApproxEqual(epoch.LiveWeights(), 1e-9))

	assert.Equal([]models.OutboxEventKind{
		models.OutboxVotingStarted,
		models.OutboxVotingEnded,
		models.OutboxResultsApproved,
	}, env.outboxKinds(t))
	assert.Greater(env.rules.calls.Load(), int64(0))

	_, err = env.mgr.ApproveResults(ctx, "admin:bob")
	assert.ErrorIs(err, ErrWrongPhase)
}

func TestVotingRoundRejected(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	castTwelve(t, env.mgr)
	_, err = env.mgr.EndVoting(ctx, "admin:alice", false)
	require.NoError(t, err)

	epoch, err := env.mgr.RejectResults(ctx, "admin:alice")
	require.NoError(t, err)
	assert.Equal(models.PhaseRunning, epoch.Phase)
	assert.Nil(epoch.ProposedWeights())
	assert.True(epoch.LiveWeights().ApproxEqual(DefaultWeights, 1e-9))
	assert.Equal(int64(12), epoch.ResultsVoteCount)

	rejected := env.auditActions(t, ActionResultsRejected)
	require.Len(t, rejected, 1)
	assert.Contains(rejected[0].Details, "discarded_weights")
}

func TestStartVotingConflicts(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", time.Minute)
	assert.ErrorIs(err, ErrInvalidRequest)
	_, err = env.mgr.StartVoting(ctx, "admin:alice", 90*24*time.Hour)
	assert.ErrorIs(err, ErrInvalidRequest)

	_, err = env.mgr.StartVoting(ctx, "admin:alice", 48*time.Hour)
	require.NoError(t, err)
	_, err = env.mgr.StartVoting(ctx, "admin:alice", 48*time.Hour)
	assert.ErrorIs(err, ErrVotingAlreadyOpen)
	assert.Equal(409, HTTPStatus(err))

	_, err = env.mgr.ApproveResults(ctx, "admin:alice")
	assert.ErrorIs(err, ErrWrongPhase)
}

func TestEndVotingRequiresMinimumBallots(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.EndVoting(ctx, "admin:alice", false)
	assert.ErrorIs(err, ErrWrongPhase)

	_, err = env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	_, err = env.mgr.CastVote(ctx, "did:plc:one", Ballot{IncludeKeywords: []string{"Go"}})
	require.NoError(t, err)

	_, err = env.mgr.EndVoting(ctx, "admin:alice", false)
	assert.ErrorIs(err, ErrInsufficientVotes)

	epoch, err := env.mgr.EndVoting(ctx, "admin:alice", true)
	require.NoError(t, err)
	assert.Equal(models.PhaseResults, epoch.Phase)
	// no weight ballots: the live weights are proposed unchanged
	proposed := epoch.ProposedWeights()
	require.NotNil(t, proposed)
	assert.True(proposed.ApproxEqual(DefaultWeights, 1e-9))
	assert.Equal(models.StringList{"go"}, epoch.ProposedIncludeKeywords)
}

func TestCastVote(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.CastVote(ctx, "did:plc:early", weightBallot([5]float64{1, 0, 0, 0, 0}))
	assert.ErrorIs(err, ErrVotingClosed)

	_, err = env.mgr.StartVoting(ctx, "admin:alice", 24*time.Hour)
	require.NoError(t, err)

	_, err = env.mgr.CastVote(ctx, "alice.example.com", weightBallot([5]float64{1, 0, 0, 0, 0}))
	assert.ErrorIs(err, ErrInvalidBallot)
	_, err = env.mgr.CastVote(ctx, "did:plc:v", Ballot{})
	assert.ErrorIs(err, ErrInvalidBallot)
	_, err = env.mgr.CastVote(ctx, "did:plc:v", Ballot{IncludeKeywords: []string{"go"}, ExcludeKeywords: []string{"GO"}})
	assert.ErrorIs(err, ErrInvalidBallot)
	_, err = env.mgr.CastVote(ctx, "did:plc:v", weightBallot([5]float64{0.5, 0.5, 0.5, 0, 0}))
	assert.ErrorIs(err, ErrInvalidWeights)

	first, err := env.mgr.CastVote(ctx, "did:plc:v", weightBallot([5]float64{1, 0, 0, 0, 0}))
	require.NoError(t, err)
	second, err := env.mgr.CastVote(ctx, "did:plc:v", Ballot{ExcludeKeywords: []string{"Spam"}})
	require.NoError(t, err)
	assert.Equal(first.ID, second.ID)
	assert.Nil(second.Weights())
	assert.Equal(models.StringList{"spam"}, second.ExcludeKeywords)

	got, err := env.mgr.GetVote(ctx, "did:plc:v")
	require.NoError(t, err)
	assert.Equal(second.ID, got.ID)
	_, err = env.mgr.GetVote(ctx, "did:plc:nobody")
	assert.ErrorIs(err, ErrBallotNotFound)
	assert.Equal(404, HTTPStatus(err))

	n, err := env.mgr.CountVotes(ctx, got.EpochID)
	require.NoError(t, err)
	assert.Equal(int64(1), n)

	// the window is closed at its end time even before the scheduler runs
	env.clock.Advance(24 * time.Hour)
	_, err = env.mgr.CastVote(ctx, "did:plc:w", weightBallot([5]float64{1, 0, 0, 0, 0}))
	assert.ErrorIs(err, ErrVotingClosed)
}

func TestForceTransition(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.AddContentRule(ctx, "admin:alice", ExcludeList, "crypto")
	require.NoError(t, err)

	old, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	_, err = env.mgr.CastVote(ctx, "did:plc:a", weightBallot([5]float64{0.6, 0.1, 0.1, 0.1, 0.1}))
	require.NoError(t, err)

	next, err := env.mgr.ForceTransition(ctx, "admin:alice")
	require.NoError(t, err)
	assert.NotEqual(old.ID, next.ID)
	assert.Equal(models.PhaseRunning, next.Phase)
	assert.Equal(models.EpochStatusActive, next.Status)
	assert.InDelta(0.6, next.RecencyWeight, 1e-9)
	// no keyword ballots: rules carried over
	assert.Equal(models.StringList{"crypto"}, next.ExcludeKeywords)

	closed, err := env.mgr.GetEpoch(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(models.EpochStatusClosed, closed.Status)
	assert.NotNil(closed.ClosedAt)

	_, err = env.mgr.GetEpoch(ctx, next.ID+100)
	assert.ErrorIs(err, ErrEpochNotFound)
	assert.NotErrorIs(err, ErrNoCurrentEpoch)
	assert.Equal(404, HTTPStatus(err))

	current, err := env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(next.ID, current.ID)

	var open int64
	require.NoError(t, env.db.Model(&models.GovernanceEpoch{}).Where("status <> ?", models.EpochStatusClosed).Count(&open).Error)
	assert.Equal(int64(1), open)

	forced := env.auditActions(t, ActionEpochForced)
	require.Len(t, forced, 1)
	assert.Equal(float64(old.ID), forced[0].Details["previous_epoch_id"])
	assert.Equal(true, forced[0].Details["rules_carried_over"])
	assert.Equal(false, forced[0].Details["weights_carried_over"])
}

func TestSecondRoundOpensNewEpoch(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	first, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	castTwelve(t, env.mgr)
	_, err = env.mgr.EndVoting(ctx, "admin:alice", false)
	require.NoError(t, err)
	approved, err := env.mgr.ApproveResults(ctx, "admin:alice")
	require.NoError(t, err)

	second, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	assert.NotEqual(first.ID, second.ID)
	assert.Equal(models.PhaseVoting, second.Phase)
	assert.True(second.LiveWeights().ApproxEqual(approved.LiveWeights(), 1e-9))
	assert.Nil(second.RoundDecidedAt)

	// earlier ballots do not count towards the new round
	n, err := env.mgr.CountVotes(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(int64(0), n)

	prev, err := env.mgr.GetEpoch(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(models.EpochStatusClosed, prev.Status)

	started := env.auditActions(t, ActionVotingStarted)
	require.Len(t, started, 2)
	assert.Equal(float64(first.ID), started[1].Details["previous_epoch_id"])
	assert.Equal(second.ID, *started[1].EpochID)
}

func TestContentRuleAdmin(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	epoch, err := env.mgr.AddContentRule(ctx, "admin:alice", IncludeList, "  Rust  Lang ")
	require.NoError(t, err)
	assert.Equal(models.StringList{"rust lang"}, epoch.IncludeKeywords)

	_, err = env.mgr.AddContentRule(ctx, "admin:alice", IncludeList, "golang")
	require.NoError(t, err)
	_, err = env.mgr.AddContentRule(ctx, "admin:alice", IncludeList, "GOLANG")
	assert.ErrorIs(err, ErrDuplicateKeyword)
	_, err = env.mgr.AddContentRule(ctx, "admin:alice", ExcludeList, "golang")
	assert.ErrorIs(err, ErrDuplicateKeyword)
	_, err = env.mgr.AddContentRule(ctx, "admin:alice", ExcludeList, "")
	assert.ErrorIs(err, ErrInvalidKeyword)

	rules, err := env.mgr.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal([]string{"golang", "rust lang"}, rules.Include)

	_, err = env.mgr.RemoveContentRule(ctx, "admin:alice", ExcludeList, "golang")
	assert.ErrorIs(err, ErrKeywordNotFound)
	assert.Equal(404, HTTPStatus(err))
	epoch, err = env.mgr.RemoveContentRule(ctx, "admin:alice", IncludeList, "golang")
	require.NoError(t, err)
	assert.Equal(models.StringList{"rust lang"}, epoch.IncludeKeywords)

	assert.Len(env.auditActions(t, ActionContentRuleAdded), 2)
	assert.Len(env.auditActions(t, ActionContentRuleRemoved), 1)

	_, err = ParseRuleList("block")
	assert.ErrorIs(err, ErrInvalidRequest)
}

func TestOverrideWeights(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	epoch, err := env.mgr.OverrideWeights(ctx, "admin:alice", models.Weights{Recency: 3, Engagement: 1})
	require.NoError(t, err)
	assert.InDelta(0.75, epoch.RecencyWeight, 1e-9)
	assert.InDelta(0.25, epoch.EngagementWeight, 1e-9)

	_, err = env.mgr.OverrideWeights(ctx, "admin:alice", models.Weights{Recency: -1})
	assert.ErrorIs(err, ErrInvalidWeights)
	assert.Len(env.auditActions(t, ActionWeightsOverridden), 1)
}

func TestScheduledVote(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()
	now := env.clock.Now()

	_, err := env.mgr.CancelScheduledVote(ctx, "admin:alice")
	assert.ErrorIs(err, ErrNoScheduledVote)
	_, err = env.mgr.ScheduleVote(ctx, "admin:alice", now.Add(-time.Minute), 0)
	assert.ErrorIs(err, ErrInvalidRequest)

	epoch, err := env.mgr.ScheduleVote(ctx, "admin:alice", now.Add(2*time.Hour), 72*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, epoch.ScheduledVoteAt)
	assert.Equal(int64(72*3600), epoch.ScheduledVoteDurationSeconds)

	started, err := env.mgr.StartDueScheduledVote(ctx)
	require.NoError(t, err)
	assert.False(started)

	env.clock.Advance(2 * time.Hour)
	started, err = env.mgr.StartDueScheduledVote(ctx)
	require.NoError(t, err)
	assert.True(started)

	epoch, err = env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(models.PhaseVoting, epoch.Phase)
	assert.Nil(epoch.ScheduledVoteAt)
	assert.WithinDuration(env.clock.Now().Add(72*time.Hour), *epoch.VotingEndsAt, time.Second)

	entries := env.auditActions(t, ActionVotingStarted)
	require.Len(t, entries, 1)
	assert.Equal(SchedulerActor, entries[0].Actor)

	_, err = env.mgr.ScheduleVote(ctx, "admin:alice", env.clock.Now().Add(time.Hour), 0)
	assert.ErrorIs(err, ErrVotingAlreadyOpen)
}

func TestCancelScheduledVote(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.ScheduleVote(ctx, "admin:alice", env.clock.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	epoch, err := env.mgr.CancelScheduledVote(ctx, "admin:alice")
	require.NoError(t, err)
	assert.Nil(epoch.ScheduledVoteAt)

	env.clock.Advance(2 * time.Hour)
	started, err := env.mgr.StartDueScheduledVote(ctx)
	require.NoError(t, err)
	assert.False(started)
	assert.Len(env.auditActions(t, ActionScheduleCanceled), 1)
}

func TestAutoCloseExpired(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 24*time.Hour)
	require.NoError(t, err)
	castTwelve(t, env.mgr)

	closed, err := env.mgr.AutoCloseExpired(ctx)
	require.NoError(t, err)
	assert.False(closed)

	env.clock.Advance(24 * time.Hour)
	closed, err = env.mgr.AutoCloseExpired(ctx)
	require.NoError(t, err)
	assert.True(closed)

	epoch, err := env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(models.PhaseResults, epoch.Phase)

	ended := env.auditActions(t, ActionVotingEnded)
	require.Len(t, ended, 1)
	assert.Equal(SchedulerActor, ended[0].Actor)
	assert.Equal(true, ended[0].Details["automatic"])

	closed, err = env.mgr.AutoCloseExpired(ctx)
	require.NoError(t, err)
	assert.False(closed)
}

func TestAutoCloseWithoutQuorumDisablesAutomation(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 24*time.Hour)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := env.mgr.CastVote(ctx, fmt.Sprintf("did:plc:v%d", i), weightBallot([5]float64{0.2, 0.2, 0.2, 0.2, 0.2}))
		require.NoError(t, err)
	}

	env.clock.Advance(25 * time.Hour)
	closed, err := env.mgr.AutoCloseExpired(ctx)
	require.NoError(t, err)
	assert.False(closed)

	epoch, err := env.mgr.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(models.PhaseVoting, epoch.Phase)
	assert.False(epoch.AutoTransition)

	disabled := env.auditActions(t, ActionAutoTransitionDisabled)
	require.Len(t, disabled, 1)
	assert.Equal(float64(4), disabled[0].Details["vote_count"])

	// nothing further happens automatically
	closed, err = env.mgr.AutoCloseExpired(ctx)
	require.NoError(t, err)
	assert.False(closed)
	assert.Len(env.auditActions(t, ActionAutoTransitionDisabled), 1)

	// an operator can still force the close
	epoch, err = env.mgr.EndVoting(ctx, "admin:alice", true)
	require.NoError(t, err)
	assert.Equal(models.PhaseResults, epoch.Phase)
}

func TestReminderSentOnce(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	sent, err := env.mgr.SendReminderIfDue(ctx)
	require.NoError(t, err)
	assert.False(sent)

	_, err = env.mgr.StartVoting(ctx, "admin:alice", 7*24*time.Hour)
	require.NoError(t, err)

	env.clock.Advance(5 * 24 * time.Hour)
	sent, err = env.mgr.SendReminderIfDue(ctx)
	require.NoError(t, err)
	assert.False(sent)

	env.clock.Advance(25 * time.Hour)
	sent, err = env.mgr.SendReminderIfDue(ctx)
	require.NoError(t, err)
	assert.True(sent)

	env.clock.Advance(time.Hour)
	sent, err = env.mgr.SendReminderIfDue(ctx)
	require.NoError(t, err)
	assert.False(sent)

	reminders := env.auditActions(t, ActionVotingReminder)
	require.Len(t, reminders, 1)
	assert.Equal(float64(23), reminders[0].Details["hours_remaining"])
	assert.Contains(env.outboxKinds(t), models.OutboxVotingReminder)
}

func TestAuditLogRedaction(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 0)
	require.NoError(t, err)
	castTwelve(t, env.mgr)
	epoch, err := env.mgr.EndVoting(ctx, "admin:alice", false)
	require.NoError(t, err)

	public, err := env.mgr.AuditLog(ctx, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, public)
	newest := public[0]
	assert.Equal(ActionVotingEnded, newest.Action)
	assert.NotContains(newest.Details, "voters")
	assert.Equal(12, newest.Details["voters_count"])

	// ids strictly decrease and paging honours before
	for i := 1; i < len(public); i++ {
		assert.Less(public[i].ID, public[i-1].ID)
	}
	older, err := env.mgr.AuditLog(ctx, 10, newest.ID)
	require.NoError(t, err)
	for _, e := range older {
		assert.Less(e.ID, newest.ID)
	}

	private, err := env.mgr.AuditLogForEpoch(ctx, epoch.ID)
	require.NoError(t, err)
	last := private[len(private)-1]
	assert.Equal(ActionVotingEnded, last.Action)
	assert.Len(last.Details["voters"], 12)
}

func TestConcurrentTicksAdvanceOnce(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 24*time.Hour)
	require.NoError(t, err)
	castTwelve(t, env.mgr)
	env.clock.Advance(24 * time.Hour)

	// two schedulers stand in for two service replicas sharing a database
	other := NewManager(env.db, &ManagerConfig{
		DefaultVotingDuration: time.Hour,
		MinVotingDuration:     time.Hour,
		MaxVotingDuration:     time.Hour,
		MinVotes:              5,
		ReminderLead:          time.Hour,
		Clock:                 env.clock,
	})
	schedulers := []*Scheduler{NewScheduler(env.mgr, time.Minute), NewScheduler(other, time.Minute)}

	var wg sync.WaitGroup
	results := make([]TickResult, len(schedulers))
	for i, s := range schedulers {
		wg.Add(1)
		go func(i int, s *Scheduler) {
			defer wg.Done()
			results[i] = s.Tick(ctx)
		}(i, s)
	}
	wg.Wait()

	closes := 0
	for _, r := range results {
		assert.True(r.Ran)
		if r.VotingClosed {
			closes++
		}
	}
	assert.Equal(1, closes)
	assert.Len(env.auditActions(t, ActionVotingEnded), 1)
}

func TestSchedulerStartStop(t *testing.T) {
	env := newTestManager(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()

	_, err := env.mgr.StartVoting(ctx, "admin:alice", 24*time.Hour)
	require.NoError(t, err)
	castTwelve(t, env.mgr)

	s := NewScheduler(env.mgr, time.Minute)
	s.Start(ctx)
	// a second Start is a no-op
	s.Start(ctx)

	env.clock.BlockUntil(1)
	env.clock.Advance(24 * time.Hour)

	require.Eventually(t, func() bool {
		epoch, err := env.mgr.CurrentEpoch(ctx)
		return err == nil && epoch.Phase == models.PhaseResults
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.Len(t, env.auditActions(t, ActionVotingEnded), 1)
}

func TestTickSkipsWhileRunning(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	s := NewScheduler(env.mgr, time.Minute)

	release := make(chan struct{})
	entered := make(chan struct{})
	go s.guard.Run(context.Background(), func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})
	<-entered

	res := s.Tick(context.Background())
	assert.False(res.Ran)
	close(release)
}

func TestRedactAuditEntryActor(t *testing.T) {
	assert := assert.New(t)

	e := RedactAuditEntry(models.AuditLogEntry{Actor: "did:plc:someone", Details: models.JSONMap{"ballots": []any{1, 2}}})
	assert.Empty(e.Actor)
	assert.Equal(2, e.Details["ballots_count"])

	e = RedactAuditEntry(models.AuditLogEntry{Actor: SchedulerActor})
	assert.Equal(SchedulerActor, e.Actor)
	assert.Nil(e.Details)
}

func TestRecordAction(t *testing.T) {
	assert := assert.New(t)
	env := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, env.mgr.RecordAction(ctx, "admin:did:plc:mod", ActionPinSet, models.JSONMap{"uri": "at://x"}))
	entries := env.auditActions(t, ActionPinSet)
	require.Len(t, entries, 1)
	assert.Equal("admin:did:plc:mod", entries[0].Actor)
	assert.Equal("at://x", entries[0].Details["uri"])
	assert.NotNil(entries[0].EpochID)
	assert.Empty(env.outboxKinds(t))
}
