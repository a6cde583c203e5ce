// Package engine executes workflow runs. A run walks its workflow snapshot
// from the trigger step, dispatching ready steps concurrently, parking on
// delays and approvals, and persisting after every step transition.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/otelhelper"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher invokes an action type. registry.Registry satisfies it.
type Dispatcher interface {
	Invoke(ctx context.Context, actionType string, input protocol.Input) (*protocol.Result, error)
}

type Engine struct {
	dispatcher Dispatcher
	runs       persistence.RunRepository
	traces     persistence.TraceRepository
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
	locks      runLocks
}

type Option func(*Engine)

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock replaces time.Now, mostly for tests of delays and timeouts.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(logger *slog.Logger, dispatcher Dispatcher, runs persistence.RunRepository, traces persistence.TraceRepository, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: dispatcher,
		runs:       runs,
		traces:     traces,
		publisher:  eventbus.NopPublisher{},
		tracer:     otel.Tracer("flowbase/engine"),
		logger:     logger.With("module", "engine"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute starts a run of snapshot from triggerStepID with the event payload
// and drives it until every reachable step is terminal or waiting. The
// returned run is failed only when the trigger step cannot start or the
// run cannot be persisted; step failures stay local to their branch.
func (e *Engine) Execute(ctx context.Context, snapshot *models.Workflow, triggerStepID string, payload map[string]any) (*models.ExecutionRun, error) {
	if snapshot == nil {
		return nil, ErrNoSnapshot
	}

	now := e.now()
	run := &models.ExecutionRun{
		ID:              uuid.NewString(),
		WorkflowID:      snapshot.ID,
		WorkflowVersion: snapshot.Version,
		TriggerStepID:   triggerStepID,
		Status:          models.RunStatusRunning,
		Steps:           map[string]*models.StepState{},
		Frontier:        []string{},
		Snapshot:        snapshot,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	unlock := e.locks.lock(run.ID)
	defer unlock()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.WorkflowIDKey, snapshot.ID),
		attribute.Int(otelhelper.WorkflowVersionKey, snapshot.Version),
		attribute.String(otelhelper.TriggerStepIDKey, triggerStepID),
	)
	defer span.End()

	logger := e.logger.With("run_id", run.ID, "workflow_id", snapshot.ID)

	g := graph.Build(snapshot)

	trigger := g.Step(triggerStepID)
	if trigger == nil || trigger.Kind != models.StepKindTrigger {
		err := fmt.Errorf("%w: %q", ErrInvalidTrigger, triggerStepID)
		otelhelper.SetError(span, err)

		return e.failRun(ctx, logger, run, err)
	}

	binding := snapshot.TriggerForStep(triggerStepID)
	if binding != nil {
		span.SetAttributes(attribute.String(otelhelper.TriggerTypeKey, string(binding.Type)))
	}

	run.Context = seedContext(run, binding, payload)

	for id := range g.Reachable(triggerStepID) {
		run.Steps[id] = &models.StepState{Status: models.StepStatusPending}
	}

	run.Steps[triggerStepID] = &models.StepState{
		Status:     models.StepStatusSucceeded,
		Output:     models.CloneMap(payload),
		StartedAt:  &now,
		FinishedAt: &now,
	}

	if err := e.save(ctx, run); err != nil {
		otelhelper.SetError(span, err)

		return run, err
	}

	if err := e.appendTrace(ctx, run.ID, triggerStepID, models.OutcomeTriggerMatched, nil); err != nil {
		otelhelper.SetError(span, err)

		return run, err
	}

	logger.InfoContext(ctx, "Run started", "trigger_step_id", triggerStepID, "steps", len(run.Steps))
	e.publish(ctx, logger, run.ID, events.RunStarted{
		BaseEvent:     events.NewBaseEvent(events.RunStartedEvent, run.WorkflowID),
		RunID:         run.ID,
		TriggerStepID: triggerStepID,
	})

	if err := e.drive(ctx, logger, run, g); err != nil {
		otelhelper.SetError(span, err)

		return run, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	return run, nil
}

func (e *Engine) failRun(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, cause error) (*models.ExecutionRun, error) {
	now := e.now()
	run.Status = models.RunStatusFailed
	run.Error = cause.Error()
	run.CompletedAt = &now

	logger.ErrorContext(ctx, "Run failed", "error", cause)

	if err := e.save(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to persist failed run", "error", err)
	}

	e.publish(ctx, logger, run.ID, events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, run.WorkflowID),
		RunID:     run.ID,
		Error:     cause.Error(),
	})

	return run, cause
}

func (e *Engine) save(ctx context.Context, run *models.ExecutionRun) error {
	run.UpdatedAt = e.now()

	if err := e.runs.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}

	return nil
}

func (e *Engine) appendTrace(ctx context.Context, runID, stepID string, outcome models.TraceOutcome, detail map[string]any) error {
	entry := &models.TraceEntry{
		RunID:     runID,
		StepID:    stepID,
		Outcome:   outcome,
		Timestamp: e.now(),
		Detail:    detail,
	}

	if err := e.traces.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append trace for run %s: %w", runID, err)
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, logger *slog.Logger, key string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish lifecycle event", "event_type", event.GetType(), "error", err)
	}
}
