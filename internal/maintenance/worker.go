// Package maintenance runs the periodic housekeeping of a running server:
// sweeping expired tool results and resetting error counters.
package maintenance

import (
	"context"
	"log/slog"
	"time"
)

// CacheSweeper drops expired cached results. *tools.Manager satisfies it.
type CacheSweeper interface {
	SweepExpired() int
}

// StatsResetter clears rolling counters. *apperr.Stats satisfies it.
type StatsResetter interface {
	Reset()
}

type task struct {
	name  string
	every time.Duration
	next  time.Time
	run   func()
}

// Worker runs each task on its own interval. Tasks never overlap, and none
// holds a lock across iterations.
type Worker struct {
	tasks  []*task
	poll   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker schedules a cache sweep every sweepEvery and an error-stats reset
// every resetEvery. A non-positive interval disables that task.
func NewWorker(cache CacheSweeper, errs StatsResetter, sweepEvery, resetEvery time.Duration) *Worker {
	w := &Worker{poll: time.Second, logger: slog.Default(), now: time.Now}
	start := w.now()
	if cache != nil && sweepEvery > 0 {
		w.tasks = append(w.tasks, &task{
			name:  "cache_sweep",
			every: sweepEvery,
			next:  start.Add(sweepEvery),
			run: func() {
				if n := cache.SweepExpired(); n > 0 {
					w.logger.Debug("expired tool results removed", "entries", n)
				}
			},
		})
	}
	if errs != nil && resetEvery > 0 {
		w.tasks = append(w.tasks, &task{
			name:  "error_stats_reset",
			every: resetEvery,
			next:  start.Add(resetEvery),
			run: func() {
				errs.Reset()
				w.logger.Info("error statistics reset")
			},
		})
	}
	for _, t := range w.tasks {
		w.poll = min(w.poll, t.every)
	}
	return w
}

// Run executes due tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce executes every task that is due and returns how many ran.
func (w *Worker) RunOnce(ctx context.Context) int {
	var ran int
	for _, t := range w.tasks {
		if ctx.Err() != nil {
			return ran
		}
		now := w.now()
		if now.Before(t.next) {
			continue
		}
		t.run()
		ran++
		// Skip missed ticks instead of running them back to back.
		for !t.next.After(now) {
			t.next = t.next.Add(t.every)
		}
	}
	return ran
}
