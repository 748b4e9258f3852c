package ticker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Periodically runs the provided task function at the specified interval until the context is done.
//
// If onError is nil, the first task error stops the loop and is returned. Otherwise errors are handed to onError and the loop keeps going.
func Periodically(ctx context.Context, clock clockwork.Clock, interval time.Duration, task func(context.Context) error, onError func(error)) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := task(ctx); err != nil {
				if onError == nil {
					return fmt.Errorf("periodic task failed: %w", err)
				}
				onError(err)
			}
		}
	}
}

// Guard keeps a job from running twice at once. A run attempted while another is in flight is skipped, not queued.
type Guard struct {
	running atomic.Bool
}

// Run calls fn unless a run is already in flight. Reports whether fn was called.
func (g *Guard) Run(ctx context.Context, fn func(context.Context) error) (bool, error) {
	if !g.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer g.running.Store(false)
	return true, fn(ctx)
}

func (g *Guard) Running() bool {
	return g.running.Load()
}
