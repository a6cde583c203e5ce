package engine

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/otelhelper"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

type stepResult struct {
	stepID     string
	actionType string
	result     *protocol.Result
	err        error
	startedAt  time.Time
}

// drive owns the run state. Ready steps are dispatched on their own
// goroutine with a private copy of the context; their results come back on
// a channel and are applied here one at a time.
func (e *Engine) drive(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, g *graph.Graph) error {
	results := make(chan stepResult, len(run.Steps))
	inflight := 0

	var driveErr error

	for {
		if driveErr == nil {
			dispatched, err := e.advance(ctx, logger, run, g, results)
			if err != nil {
				driveErr = err
			}

			inflight += dispatched
		}

		if inflight == 0 {
			break
		}

		res := <-results
		inflight--

		if driveErr != nil {
			continue
		}

		if err := e.apply(ctx, logger, run, res); err != nil {
			driveErr = err
		}
	}

	if driveErr != nil {
		_, err := e.failRun(ctx, logger, run, driveErr)

		return err
	}

	return e.settle(ctx, logger, run)
}

// advance skips dead steps and dispatches ready ones until the run state
// stops changing. It returns how many steps were dispatched.
func (e *Engine) advance(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, g *graph.Graph, results chan<- stepResult) (int, error) {
	dispatched := 0

	for {
		changed := false

		for _, id := range g.StepIDs() {
			state, ok := run.Steps[id]
			if !ok || state.Status != models.StepStatusPending {
				continue
			}

			ready, fire := e.readiness(run, g, id)
			if !ready {
				continue
			}

			changed = true

			if !fire {
				if err := e.skip(ctx, logger, run, id); err != nil {
					return dispatched, err
				}

				continue
			}

			if err := e.dispatch(ctx, logger, run, g.Step(id), results); err != nil {
				return dispatched, err
			}

			dispatched++
		}

		if !changed {
			return dispatched, nil
		}
	}
}

// readiness implements join-on-all with dead-path elimination: a step is
// ready once every predecessor in the run is terminal, and fires only when
// no predecessor failed and at least one incoming edge is active.
func (e *Engine) readiness(run *models.ExecutionRun, g *graph.Graph, id string) (ready, fire bool) {
	active := false

	for _, edge := range g.Predecessors(id) {
		pred, ok := run.Steps[edge.From]
		if !ok {
			continue
		}

		if !pred.Status.Terminal() {
			return false, false
		}

		switch pred.Status {
		case models.StepStatusFailed:
			return true, false
		case models.StepStatusSucceeded:
			if edge.Branch == models.BranchNone || edge.Branch == pred.Branch {
				active = true
			}
		}
	}

	return true, active
}

func (e *Engine) skip(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, stepID string) error {
	now := e.now()
	state := run.Steps[stepID]
	state.Status = models.StepStatusSkipped
	state.FinishedAt = &now

	logger.DebugContext(ctx, "Step skipped", "step_id", stepID)

	if err := e.save(ctx, run); err != nil {
		return err
	}

	return e.appendTrace(ctx, run.ID, stepID, models.OutcomeSkipped, nil)
}

func (e *Engine) dispatch(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, step *models.Step, results chan<- stepResult) error {
	now := e.now()
	state := run.Steps[step.ID]
	state.Status = models.StepStatusRunning
	state.StartedAt = &now
	run.Frontier = append(run.Frontier, step.ID)

	if err := e.save(ctx, run); err != nil {
		return err
	}

	input := protocol.Input{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		StepID:     step.ID,
		Config:     template.Config(step.Config, run.Context),
		Context:    models.CloneMap(run.Context),
		Now:        now,
		Logger:     logger.With("step_id", step.ID, "action_type", step.ActionType),
	}

	go func() {
		stepCtx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
			attribute.String(otelhelper.RunIDKey, input.RunID),
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.ActionTypeKey, step.ActionType),
		)
		defer span.End()

		result, err := e.dispatcher.Invoke(stepCtx, step.ActionType, input)
		if err != nil {
			otelhelper.SetError(span, err)
		}

		results <- stepResult{stepID: step.ID, actionType: step.ActionType, result: result, err: err, startedAt: now}
	}()

	return nil
}

func (e *Engine) apply(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, res stepResult) error {
	state := run.Steps[res.stepID]

	if res.err != nil {
		return e.failStep(ctx, logger, run, res.stepID, &StepExecutionError{StepID: res.stepID, ActionType: res.actionType, Err: res.err})
	}

	result := res.result
	if result == nil {
		result = &protocol.Result{}
	}

	output, err := actions.Normalize(result.Output)
	if err != nil {
		return e.failStep(ctx, logger, run, res.stepID, &StepExecutionError{StepID: res.stepID, ActionType: res.actionType, Err: err})
	}

	state.Attempts = result.Attempts
	state.Output = output

	if result.Suspend != nil {
		return e.suspendStep(ctx, logger, run, res.stepID, result.Suspend)
	}

	return e.succeedStep(ctx, logger, run, res.stepID, output, result.Branch)
}

func (e *Engine) succeedStep(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, stepID string, output any, branch models.Branch) error {
	now := e.now()
	state := run.Steps[stepID]
	state.Status = models.StepStatusSucceeded
	state.Output = output
	state.Branch = branch
	state.FinishedAt = &now
	run.Frontier = removeID(run.Frontier, stepID)
	run.Context[stepID] = output

	logger.InfoContext(ctx, "Step succeeded", "step_id", stepID, "branch", branch, "attempts", state.Attempts)

	if err := e.save(ctx, run); err != nil {
		return err
	}

	detail := map[string]any{}
	if state.Attempts > 1 {
		detail["attempts"] = state.Attempts
	}

	if branch != models.BranchNone {
		detail["branch"] = string(branch)
	}

	return e.appendTrace(ctx, run.ID, stepID, models.OutcomeSuccess, emptyToNil(detail))
}

func (e *Engine) failStep(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, stepID string, cause error) error {
	now := e.now()
	kind := errorKind(cause)
	state := run.Steps[stepID]
	state.Status = models.StepStatusFailed
	state.Error = cause.Error()
	state.ErrorKind = kind
	state.FinishedAt = &now
	run.Frontier = removeID(run.Frontier, stepID)

	logger.WarnContext(ctx, "Step failed", "step_id", stepID, "kind", kind, "error", cause)

	if err := e.save(ctx, run); err != nil {
		return err
	}

	return e.appendTrace(ctx, run.ID, stepID, models.OutcomeFailed, map[string]any{
		"error": cause.Error(),
		"kind":  string(kind),
	})
}

func (e *Engine) suspendStep(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, stepID string, suspension *protocol.Suspension) error {
	state := run.Steps[stepID]
	state.Status = models.StepStatusWaiting

	detail, err := actions.Normalize(suspension.Detail)
	if err != nil {
		return err
	}

	wait := models.Wait{StepID: stepID, Reason: suspension.Reason, DueAt: suspension.DueAt}
	if m, ok := detail.(map[string]any); ok {
		wait.Detail = m
	}

	run.RemoveWait(stepID)
	run.Waits = append(run.Waits, wait)

	logger.InfoContext(ctx, "Step suspended", "step_id", stepID, "reason", wait.Reason, "due_at", wait.DueAt)

	if err := e.save(ctx, run); err != nil {
		return err
	}

	traceDetail := map[string]any{"reason": string(wait.Reason)}
	if !wait.DueAt.IsZero() {
		traceDetail["due_at"] = wait.DueAt.Format(time.RFC3339)
	}

	return e.appendTrace(ctx, run.ID, stepID, models.OutcomeSuspended, traceDetail)
}

// settle closes the run once nothing is in flight: suspended while waits
// remain, succeeded otherwise.
func (e *Engine) settle(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun) error {
	if len(run.Waits) > 0 {
		run.Status = models.RunStatusSuspended

		if err := e.save(ctx, run); err != nil {
			_, err = e.failRun(ctx, logger, run, err)

			return err
		}

		logger.InfoContext(ctx, "Run suspended", "waits", len(run.Waits))
		e.publish(ctx, logger, run.ID, events.RunSuspended{
			BaseEvent: events.NewBaseEvent(events.RunSuspendedEvent, run.WorkflowID),
			RunID:     run.ID,
			Waits:     slices.Clone(run.Waits),
		})

		return nil
	}

	now := e.now()
	run.Status = models.RunStatusSucceeded
	run.CompletedAt = &now
	run.Frontier = []string{}

	if err := e.save(ctx, run); err != nil {
		_, err = e.failRun(ctx, logger, run, err)

		return err
	}

	failed := failedSteps(run)

	logger.InfoContext(ctx, "Run completed", "failed_steps", failed)
	e.publish(ctx, logger, run.ID, events.RunCompleted{
		BaseEvent:   events.NewBaseEvent(events.RunCompletedEvent, run.WorkflowID),
		RunID:       run.ID,
		Duration:    now.Sub(run.CreatedAt),
		FailedSteps: failed,
	})

	return nil
}

func failedSteps(run *models.ExecutionRun) []string {
	failed := make([]string, 0)

	for id, state := range run.Steps {
		if state.Status == models.StepStatusFailed {
			failed = append(failed, id)
		}
	}

	slices.Sort(failed)

	return failed
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}

func emptyToNil(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}

	return m
}
