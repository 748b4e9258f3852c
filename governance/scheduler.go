package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/agora/internal/ticker"
)

const DefaultSchedulerInterval = 5 * time.Minute

type TickResult struct {
	// false when the tick was skipped because another was in flight
	Ran bool

	VotingStarted bool
	VotingClosed  bool
	ReminderSent  bool
}

// Scheduler drives time-based epoch transitions.
type Scheduler struct {
	mgr      *Manager
	interval time.Duration
	guard    ticker.Guard
	logger   *slog.Logger

	lk     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(mgr *Manager, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	return &Scheduler{
		mgr:      mgr,
		interval: interval,
		logger:   mgr.logger.With("component", "scheduler"),
	}
}

// Tick runs one pass: start due scheduled votes, close expired voting
// windows, then send due reminders. A failing step is logged and does not
// stop the others.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	var res TickResult
	ran, _ := s.guard.Run(ctx, func(ctx context.Context) error {
		res.VotingStarted = s.step(ctx, "start-scheduled", s.mgr.StartDueScheduledVote)
		res.VotingClosed = s.step(ctx, "auto-close", s.mgr.AutoCloseExpired)
		res.ReminderSent = s.step(ctx, "reminder", s.mgr.SendReminderIfDue)
		return nil
	})
	res.Ran = ran
	if !ran {
		schedulerTicks.WithLabelValues("skipped").Inc()
		s.logger.Debug("scheduler tick skipped, previous tick still running")
		return res
	}
	schedulerTicks.WithLabelValues("ran").Inc()
	return res
}

func (s *Scheduler) step(ctx context.Context, name string, fn func(context.Context) (bool, error)) (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler step panicked", "step", name, "panic", fmt.Sprint(r))
			changed = false
		}
	}()
	changed, err := fn(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCurrentEpoch) {
			s.logger.Warn("scheduler step found no current epoch", "step", name)
		} else {
			s.logger.Error("scheduler step failed", "step", name, "err", err)
		}
		return false
	}
	if changed {
		s.logger.Info("scheduler step applied", "step", name)
	}
	return changed
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("starting epoch scheduler", "interval", s.interval)
	err := ticker.Periodically(ctx, s.mgr.clock, s.interval, func(ctx context.Context) error {
		s.Tick(ctx)
		return nil
	}, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start runs the scheduler in the background until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := s.Run(ctx); err != nil {
			s.logger.Error("epoch scheduler exited", "err", err)
		}
	}(s.done)
}

// Stop cancels the background loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.lk.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lk.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger runs a tick immediately, outside the regular cadence.
func (s *Scheduler) Trigger(ctx context.Context) TickResult {
	return s.Tick(ctx)
}
