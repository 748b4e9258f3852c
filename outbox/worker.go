// Package outbox delivers committed governance events to an announcer.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/agora/internal/ticker"
	"github.com/bluesky-social/agora/models"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("outbox")

type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// how long a claimed event is hidden from other workers
	ClaimLease time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Interval:    5 * time.Second,
		BatchSize:   50,
		MaxAttempts: 10,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Hour,
		ClaimLease:  5 * time.Minute,
	}
}

// Backoff is the delay before the next attempt, after the given number of
// failed attempts (starting at 1).
func (c *Config) Backoff(attempts int) time.Duration {
	d := c.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(d, c.MaxBackoff)
}

type WorkerOptions struct {
	Renderer *Renderer
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Config   *Config
}

// Worker drains the outbox. Delivery never touches governance state.
type Worker struct {
	db        *gorm.DB
	announcer Announcer
	renderer  *Renderer
	clock     clockwork.Clock
	logger    *slog.Logger
	config    Config
	guard     ticker.Guard
}

func NewWorker(db *gorm.DB, announcer Announcer, opts WorkerOptions) (*Worker, error) {
	config := opts.Config
	if config == nil {
		config = DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("system", "outbox")
	}
	renderer := opts.Renderer
	if renderer == nil {
		r, err := NewRenderer()
		if err != nil {
			return nil, err
		}
		renderer = r
	}
	return &Worker{
		db:        db,
		announcer: announcer,
		renderer:  renderer,
		clock:     clock,
		logger:    logger,
		config:    *config,
	}, nil
}

type DrainResult struct {
	Delivered int
	Retried   int
	Failed    int
}

func (w *Worker) pending(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.OutboxEvent{}).Where("delivered_at IS NULL AND failed_at IS NULL")
}

// Drain delivers one batch of due events, oldest first.
func (w *Worker) Drain(ctx context.Context) (*DrainResult, error) {
	ctx, span := tracer.Start(ctx, "Drain")
	defer span.End()

	now := w.clock.Now().UTC()
	var due []models.OutboxEvent
	if err := w.pending(w.db.WithContext(ctx)).
		Where("next_attempt_at <= ?", now).
		Order("id ASC").
		Limit(w.config.BatchSize).
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("loading due outbox events: %w", err)
	}

	res := &DrainResult{}
	for i := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev := &due[i]
		claimed, err := w.claim(ctx, ev, now)
		if err != nil {
			return res, err
		}
		if !claimed {
			continue
		}
		switch outcome := w.deliver(ctx, ev); outcome {
		case "delivered":
			res.Delivered++
		case "retry":
			res.Retried++
		case "failed":
			res.Failed++
		}
	}

	var left int64
	if err := w.pending(w.db.WithContext(ctx)).Count(&left).Error; err == nil {
		pendingEvents.Set(float64(left))
	}
	span.SetAttributes(attribute.Int("delivered", res.Delivered), attribute.Int("retried", res.Retried), attribute.Int("failed", res.Failed))
	return res, nil
}

// claim bumps the attempt counter of an event, guarded on the value we read,
// so that concurrent workers never deliver the same attempt twice.
func (w *Worker) claim(ctx context.Context, ev *models.OutboxEvent, now time.Time) (bool, error) {
	res := w.pending(w.db.WithContext(ctx)).
		Where("id = ? AND attempts = ?", ev.ID, ev.Attempts).
		Updates(map[string]any{
			"attempts":        ev.Attempts + 1,
			"next_attempt_at": now.Add(w.config.ClaimLease),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claiming outbox event %d: %w", ev.ID, res.Error)
	}
	ev.Attempts++
	return res.RowsAffected == 1, nil
}

func (w *Worker) deliver(ctx context.Context, ev *models.OutboxEvent) string {
	err := w.announce(ctx, ev)
	now := w.clock.Now().UTC()
	logger := w.logger.With("event", ev.ID, "kind", ev.Kind, "attempt", ev.Attempts)

	updates := map[string]any{}
	outcome := "delivered"
	switch {
	case err == nil:
		updates["delivered_at"] = now
		updates["last_error"] = ""
	case ev.Attempts >= w.config.MaxAttempts:
		outcome = "failed"
		updates["failed_at"] = now
		updates["last_error"] = err.Error()
		logger.Error("giving up on outbox event", "err", err)
	default:
		outcome = "retry"
		delay := w.config.Backoff(ev.Attempts)
		updates["next_attempt_at"] = now.Add(delay)
		updates["last_error"] = err.Error()
		logger.Warn("outbox delivery failed", "err", err, "retry_in", delay)
	}
	deliveries.WithLabelValues(string(ev.Kind), outcome).Inc()

	// a cancelled drain must still record what happened
	if uerr := w.db.WithContext(context.WithoutCancel(ctx)).Model(&models.OutboxEvent{}).Where("id = ?", ev.ID).Updates(updates).Error; uerr != nil {
		logger.Error("failed to record outbox delivery", "err", uerr, "outcome", outcome)
	}
	return outcome
}

func (w *Worker) announce(ctx context.Context, ev *models.OutboxEvent) error {
	text, err := w.renderer.Render(ev)
	if err != nil {
		return err
	}
	return w.announcer.Announce(ctx, &Announcement{
		EventID:   ev.ID,
		Kind:      string(ev.Kind),
		EpochID:   ev.EpochID,
		Text:      text,
		Payload:   PublicPayload(ev),
		CreatedAt: ev.CreatedAt.UTC(),
	})
}

// RunPeriodically drains every Interval until ctx is done. Overlapping ticks are skipped.
func (w *Worker) RunPeriodically(ctx context.Context) error {
	w.logger.Info("starting outbox worker", "interval", w.config.Interval)
	err := ticker.Periodically(ctx, w.clock, w.config.Interval, func(ctx context.Context) error {
		ran, err := w.guard.Run(ctx, func(ctx context.Context) error {
			_, err := w.Drain(ctx)
			return err
		})
		if !ran {
			deliveries.WithLabelValues("", "skipped").Inc()
			return nil
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("outbox drain failed", "err", err)
		}
		return nil
	}, nil)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
