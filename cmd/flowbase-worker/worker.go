// Package main provides the Flowbase worker: it turns inbound bus events
// into runs and resumes runs whose waits are due.
package main

import (
	"context"
	"log/slog"

	"github.com/dukex/flowbase/pkg/cmd"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/scheduler"
)

type Worker struct {
	logger    *slog.Logger
	runtime   *cmd.Runtime
	scheduler *scheduler.Scheduler
}

func NewWorker(logger *slog.Logger, runtime *cmd.Runtime, sched *scheduler.Scheduler) *Worker {
	return &Worker{
		logger:    logger,
		runtime:   runtime,
		scheduler: sched,
	}
}

// Start subscribes to the bus and blocks in the scheduler loop until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.subscribe(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	err := w.scheduler.Run(ctx)

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return err
}

func (w *Worker) subscribe(ctx context.Context) error {
	bus := w.runtime.EventBus

	if err := w.runtime.WatchWorkflows(ctx); err != nil {
		return err
	}

	for _, eventType := range []events.EventType{events.FormSubmittedEvent, events.DatabaseChangedEvent} {
		if err := bus.Handle(eventType, w.runtime.Executions.HandleEvent); err != nil {
			return err
		}
	}

	if err := bus.Handle(events.RunSuspendedEvent, w.scheduler.OnRunSuspended); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	return nil
}
