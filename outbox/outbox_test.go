package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/agora/governance"
	"github.com/bluesky-social/agora/internal/testutil"
	"github.com/bluesky-social/agora/models"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAnnouncer struct {
	lk    sync.Mutex
	seen  []*Announcement
	fails int
}

func (f *fakeAnnouncer) Announce(ctx context.Context, a *Announcement) error {
	f.lk.Lock()
	defer f.lk.Unlock()
	if f.fails != 0 {
		if f.fails > 0 {
			f.fails--
		}
		return errors.New("webhook unavailable")
	}
	f.seen = append(f.seen, a)
	return nil
}

func (f *fakeAnnouncer) kinds() []string {
	f.lk.Lock()
	defer f.lk.Unlock()
	out := make([]string, len(f.seen))
	for i, a := range f.seen {
		out[i] = a.Kind
	}
	return out
}

func newTestWorker(t *testing.T, db *gorm.DB, ann Announcer, clock clockwork.Clock, config *Config) *Worker {
	t.Helper()
	w, err := NewWorker(db, ann, WorkerOptions{Clock: clock, Config: config})
	require.NoError(t, err)
	return w
}

func insertEvent(t *testing.T, db *gorm.DB, kind models.OutboxEventKind, payload models.JSONMap) *models.OutboxEvent {
	t.Helper()
	ev := &models.OutboxEvent{CreatedAt: testNow, Kind: kind, EpochID: 1, Payload: payload, NextAttemptAt: testNow}
	require.NoError(t, db.Create(ev).Error)
	return ev
}

func reload(t *testing.T, db *gorm.DB, id uint64) *models.OutboxEvent {
	t.Helper()
	var ev models.OutboxEvent
	require.NoError(t, db.First(&ev, id).Error)
	return &ev
}

// runs a full voting round so the outbox holds real governance events
func governanceEvents(t *testing.T, db *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	config := governance.DefaultManagerConfig()
	config.Clock = clockwork.NewFakeClockAt(testNow)
	mgr := governance.NewManager(db, config)
	_, err := mgr.EnsureEpoch(ctx)
	require.NoError(t, err)
	_, err = mgr.StartVoting(ctx, "admin:did:plc:mod", 48*time.Hour)
	require.NoError(t, err)
	w := models.Weights{Recency: 0.5, Engagement: 0.2, Bridging: 0.1, SourceDiversity: 0.1, Relevance: 0.1}
	_, err = mgr.CastVote(ctx, "did:plc:voter", governance.Ballot{Weights: &w, IncludeKeywords: []string{"golang"}})
	require.NoError(t, err)
	_, err = mgr.EndVoting(ctx, "admin:did:plc:mod", true)
	require.NoError(t, err)
	_, err = mgr.ApproveResults(ctx, "admin:did:plc:mod")
	require.NoError(t, err)
}

func TestRenderGovernanceEvents(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	governanceEvents(t, db)

	r, err := NewRenderer()
	require.NoError(t, err)

	var events []models.OutboxEvent
	require.NoError(t, db.Order("id ASC").Find(&events).Error)
	require.Len(t, events, 3)

	text, err := r.Render(&events[0])
	require.NoError(t, err)
	assert.Equal("Voting is open for epoch 1 until 2024-03-03T12:00:00Z. Cast a ballot to shape how the community feed is ranked.", text)

	text, err = r.Render(&events[1])
	require.NoError(t, err)
	assert.Contains(text, "Voting closed for epoch 1 with 1 ballot.")
	assert.Contains(text, "Proposed weights: bridging 0.100, engagement 0.200, recency 0.500, relevance 0.100, source_diversity 0.100.")
	assert.NotContains(text, "did:plc:voter")

	text, err = r.Render(&events[2])
	require.NoError(t, err)
	assert.Contains(text, "New ranking weights are live for epoch 1:")
	assert.Contains(text, "Including: golang.")
	assert.NotContains(text, "Excluding")

	public := PublicPayload(&events[1])
	assert.NotContains(public, "voters")
	assert.Equal(1, public["voters_count"])
	assert.Equal(int64(1), public["vote_count"])
}

func TestRenderSparsePayload(t *testing.T) {
	assert := assert.New(t)
	r, err := NewRenderer()
	require.NoError(t, err)

	text, err := r.Render(&models.OutboxEvent{Kind: models.OutboxVotingReminder, EpochID: 2, Payload: models.JSONMap{"hours_remaining": 3}})
	require.NoError(t, err)
	assert.Equal("About 3 hours left to vote in epoch 2 (0 ballots so far).", text)

	text, err = r.Render(&models.OutboxEvent{Kind: models.OutboxVotingEnded, EpochID: 2})
	require.NoError(t, err)
	assert.Equal("Voting closed for epoch 2 with 0 ballots. Results are pending review.", text)
}

func TestRenderUnknownKind(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	text, err := r.Render(&models.OutboxEvent{Kind: "something_new", EpochID: 4})
	require.NoError(t, err)
	assert.Equal(t, "Governance update for epoch 4: something_new.", text)
}

func TestDrainDeliversInOrder(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	governanceEvents(t, db)
	ann := &fakeAnnouncer{}
	w := newTestWorker(t, db, ann, clockwork.NewFakeClockAt(testNow), nil)

	res, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(3, res.Delivered)
	assert.Equal([]string{"voting_started", "voting_ended", "results_approved"}, ann.kinds())
	assert.NotEmpty(ann.seen[1].Text)
	assert.NotContains(ann.seen[1].Payload, "voters")

	var pending int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("delivered_at IS NULL").Count(&pending).Error)
	assert.Zero(pending)

	// nothing left to do
	res, err = w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(DrainResult{}, *res)
}

func TestDrainBatchSize(t *testing.T) {
	db := testutil.TestDB(t)
	for i := 0; i < 5; i++ {
		insertEvent(t, db, models.OutboxVotingReminder, models.JSONMap{"hours_remaining": 3})
	}
	config := DefaultConfig()
	config.BatchSize = 2
	ann := &fakeAnnouncer{}
	w := newTestWorker(t, db, ann, clockwork.NewFakeClockAt(testNow), config)

	res, err := w.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Delivered)
	require.Len(t, ann.seen, 2)
	assert.Equal(t, uint64(1), ann.seen[0].EventID)
	assert.Equal(t, uint64(2), ann.seen[1].EventID)
	assert.Equal(t, "About 3 hours left to vote in epoch 1 (0 ballots so far).", ann.seen[0].Text)
}

func TestDrainRetriesWithBackoff(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	ev := insertEvent(t, db, models.OutboxVotingReminder, models.JSONMap{"hours_remaining": 3, "vote_count": 7})
	clock := clockwork.NewFakeClockAt(testNow)
	ann := &fakeAnnouncer{fails: 2}
	w := newTestWorker(t, db, ann, clock, nil)
	ctx := context.Background()

	res, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Retried)
	row := reload(t, db, ev.ID)
	assert.Equal(1, row.Attempts)
	assert.Equal("webhook unavailable", row.LastError)
	assert.WithinDuration(testNow.Add(time.Second), row.NextAttemptAt, time.Millisecond)

	// not due yet
	res, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(DrainResult{}, *res)

	clock.Advance(time.Second)
	res, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Retried)
	row = reload(t, db, ev.ID)
	assert.Equal(2, row.Attempts)
	assert.WithinDuration(testNow.Add(3*time.Second), row.NextAttemptAt, time.Millisecond)

	clock.Advance(2 * time.Second)
	res, err = w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Delivered)
	row = reload(t, db, ev.ID)
	assert.Equal(3, row.Attempts)
	assert.NotNil(row.DeliveredAt)
	assert.Empty(row.LastError)
	require.Len(t, ann.seen, 1)
	assert.Equal("About 3 hours left to vote in epoch 1 (7 ballots so far).", ann.seen[0].Text)
}

func TestDrainGivesUp(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	ev := insertEvent(t, db, models.OutboxResultsRejected, nil)
	clock := clockwork.NewFakeClockAt(testNow)
	config := DefaultConfig()
	config.MaxAttempts = 3
	w := newTestWorker(t, db, &fakeAnnouncer{fails: -1}, clock, config)
	ctx := context.Background()

	var failed int
	for i := 0; i < 5; i++ {
		res, err := w.Drain(ctx)
		require.NoError(t, err)
		failed += res.Failed
		clock.Advance(time.Hour)
	}
	assert.Equal(1, failed)
	row := reload(t, db, ev.ID)
	assert.Equal(3, row.Attempts)
	assert.NotNil(row.FailedAt)
	assert.Nil(row.DeliveredAt)
	assert.Equal("webhook unavailable", row.LastError)
}

func TestClaimIsExclusive(t *testing.T) {
	db := testutil.TestDB(t)
	ev := insertEvent(t, db, models.OutboxVotingStarted, nil)
	w1 := newTestWorker(t, db, &fakeAnnouncer{}, clockwork.NewFakeClockAt(testNow), nil)
	w2 := newTestWorker(t, db, &fakeAnnouncer{}, clockwork.NewFakeClockAt(testNow), nil)

	a, b := *ev, *ev
	ok, err := w1.claim(context.Background(), &a, testNow)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = w2.claim(context.Background(), &b, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	// the claim lease hides the event from the next drain
	res, err := w2.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, *res)
}

func TestBackoff(t *testing.T) {
	assert := assert.New(t)
	c := DefaultConfig()
	assert.Equal(time.Second, c.Backoff(1))
	assert.Equal(2*time.Second, c.Backoff(2))
	assert.Equal(8*time.Second, c.Backoff(4))
	assert.Equal(2048*time.Second, c.Backoff(12))
	assert.Equal(time.Hour, c.Backoff(13))
	assert.Equal(time.Hour, c.Backoff(40))
}

func TestWebhookAnnouncer(t *testing.T) {
	assert := assert.New(t)

	var got Announcement
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.Equal("Bearer s3cret", r.Header.Get("Authorization"))
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ann := NewWebhookAnnouncer(srv.URL, WebhookOptions{Secret: "s3cret"})
	err := ann.Announce(context.Background(), &Announcement{EventID: 9, Kind: "voting_started", EpochID: 2, Text: "hello"})
	assert.NoError(err)
	assert.Equal(uint64(9), got.EventID)
	assert.Equal("hello", got.Text)
}

func TestWebhookAnnouncerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	err := NewWebhookAnnouncer(srv.URL+"/bad", WebhookOptions{}).Announce(ctx, &Announcement{})
	assert.ErrorContains(t, err, "400")

	err = NewWebhookAnnouncer(srv.URL+"/down", WebhookOptions{}).Announce(ctx, &Announcement{})
	assert.Error(t, err)
}
