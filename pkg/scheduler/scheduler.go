// Package scheduler wakes suspended runs whose delays or approval timeouts
// are due. It polls the run repository, or drains a Redis wake queue when
// one is configured.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultConcurrency = 8
)

type Resumer interface {
	Resume(ctx context.Context, runID string, signal engine.Signal) (*models.ExecutionRun, error)
}

// WakeQueue orders run ids by wake time. Due removes and returns the ids
// whose time has come; an id is handed to one caller only.
type WakeQueue interface {
	Schedule(ctx context.Context, runID string, at time.Time) error
	Due(ctx context.Context, now time.Time) ([]string, error)
	Remove(ctx context.Context, runID string) error
}

type Scheduler struct {
	runs        persistence.RunRepository
	resumer     Resumer
	queue       WakeQueue
	interval    time.Duration
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Scheduler)

func WithQueue(queue WakeQueue) Option {
	return func(s *Scheduler) {
		s.queue = queue
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(logger *slog.Logger, runs persistence.RunRepository, resumer Resumer, opts ...Option) *Scheduler {
	s := &Scheduler{
		runs:        runs,
		resumer:     resumer,
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With("module", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run recovers pending wake-ups and then ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval, "queue", s.queue != nil)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to process due runs", "error", err)
			}
		}
	}
}

// Recover enqueues every suspended run so wake-ups survive a restart.
// Without a queue the repository is polled directly and nothing is needed.
func (s *Scheduler) Recover(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}

	runs, err := s.runs.ListSuspended(ctx)
	if err != nil {
		return err
	}

	for _, run := range runs {
		if err := s.enqueue(ctx, run); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "Recovered suspended runs", "count", len(runs))

	return nil
}

// Tick resumes every due run once, in parallel up to the concurrency limit.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	ids, err := s.dueRunIDs(ctx, now)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		return nil
	}

	s.logger.DebugContext(ctx, "Waking due runs", "count", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			s.wake(gctx, id)

			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) dueRunIDs(ctx context.Context, now time.Time) ([]string, error) {
	if s.queue != nil {
		return s.queue.Due(ctx, now)
	}

	runs, err := s.runs.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}

	return ids, nil
}

func (s *Scheduler) wake(ctx context.Context, runID string) {
	logger := s.logger.With("run_id", runID)

	run, err := s.resumer.Resume(ctx, runID, engine.Signal{Kind: engine.SignalWake})
	if err != nil {
		if errors.Is(err, engine.ErrRunNotSuspended) || errors.Is(err, engine.ErrRunClaimed) {
			logger.DebugContext(ctx, "Run already resumed", "error", err)

			return
		}

		logger.ErrorContext(ctx, "Failed to wake run", "error", err)

		if run == nil {
			return
		}
	}

	if run == nil || s.queue == nil {
		return
	}

	if err := s.enqueue(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to reschedule run", "error", err)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, run *models.ExecutionRun) error {
	if run.Status != models.RunStatusSuspended {
		return s.queue.Remove(ctx, run.ID)
	}

	next, ok := run.NextDue()
	if !ok {
		return s.queue.Remove(ctx, run.ID)
	}

	return s.queue.Schedule(ctx, run.ID, next)
}

// OnRunSuspended is an event bus handler that keeps the wake queue in step
// with runs suspended by any worker.
func (s *Scheduler) OnRunSuspended(ctx context.Context, event any) error {
	suspended, ok := event.(*events.RunSuspended)
	if !ok || s.queue == nil {
		return nil
	}

	var next time.Time

	for _, wait := range suspended.Waits {
		if wait.DueAt.IsZero() {
			continue
		}

		if next.IsZero() || wait.DueAt.Before(next) {
			next = wait.DueAt
		}
	}

	if next.IsZero() {
		return nil
	}

	return s.queue.Schedule(ctx, suspended.RunID, next)
}
