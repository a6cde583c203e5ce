package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/trigger"
)

type Execution struct {
	persistence persistence.Persistence
	engine      *engine.Engine
	matcher     *trigger.Matcher
	validator   *graph.Validator
	logger      *slog.Logger
}

func NewExecution(logger *slog.Logger, persistence persistence.Persistence, eng *engine.Engine, matcher *trigger.Matcher, graphValidator *graph.Validator) *Execution {
	return &Execution{
		persistence: persistence,
		engine:      eng,
		matcher:     matcher,
		validator:   graphValidator,
		logger:      logger.With("module", "execution_service"),
	}
}

// TestRunRequest fires a workflow directly, bypassing trigger matching.
type TestRunRequest struct {
	WorkflowID    string         `json:"workflow_id"     validate:"required"`
	TriggerData   map[string]any `json:"trigger_data"`
	TriggerStepID string         `json:"trigger_step_id"`
}

type TestRunResult struct {
	Success bool             `json:"success"`
	RunID   string           `json:"run_id,omitempty"`
	Status  models.RunStatus `json:"status,omitempty"`
	Logs    []string         `json:"logs"`
	Error   string           `json:"error,omitempty"`
}

// TestRun executes a workflow, active or not, and reports its trace as
// "<step>-<outcome>" lines. Success requires the run to finish without a
// failed step.
func (e *Execution) TestRun(ctx context.Context, req TestRunRequest) (*TestRunResult, error) {
	if req.WorkflowID == "" {
		return nil, NewValidationError("TestRun", "WORKFLOW_ID_REQUIRED", "workflow_id is required", ErrInvalidRequest)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if err := e.validator.Validate(workflow); err != nil {
		return nil, err
	}

	stepID := req.TriggerStepID
	if stepID == "" {
		triggers := graph.Build(workflow).TriggerSteps()
		if len(triggers) == 0 {
			return nil, ErrTriggerStepRequired
		}

		stepID = triggers[0]
	}

	payload := req.TriggerData
	if payload == nil {
		payload = map[string]any{}
	}

	run, runErr := e.engine.Execute(ctx, workflow.Clone(), stepID, payload)

	result := &TestRunResult{Logs: []string{}}

	if run != nil {
		result.RunID = run.ID
		result.Status = run.Status

		entries, err := e.persistence.TraceRepository().Read(ctx, run.ID)
		if err != nil && !persistence.IsRunNotFound(err) {
			return nil, err
		}

		for _, entry := range entries {
			result.Logs = append(result.Logs, entry.Label())
		}
	}

	switch {
	case runErr != nil:
		result.Error = runErr.Error()
	case run.Status == models.RunStatusFailed:
		result.Error = run.Error
	default:
		result.Error = stepErrors(run)
	}

	result.Success = result.Error == ""

	e.logger.InfoContext(ctx, "Test run finished", "workflow_id", workflow.ID, "run_id", result.RunID, "success", result.Success)

	return result, nil
}

func stepErrors(run *models.ExecutionRun) string {
	messages := make([]string, 0)

	for _, id := range graph.Build(run.Snapshot).StepIDs() {
		if state, ok := run.Steps[id]; ok && state.Status == models.StepStatusFailed {
			messages = append(messages, state.Error)
		}
	}

	return strings.Join(messages, "; ")
}

// Dispatch matches an inbound event and starts one run per match. Events
// nobody listens to are logged and dropped.
func (e *Execution) Dispatch(ctx context.Context, event models.Event) ([]*models.ExecutionRun, error) {
	matches, err := e.matcher.OnEvent(ctx, event)
	if err != nil {
		if trigger.IsTriggerMatchError(err) {
			e.logger.InfoContext(ctx, "Dropping unmatched event", "event_id", event.ID, "error", err)

			return []*models.ExecutionRun{}, nil
		}

		if errors.Is(err, trigger.ErrInvalidEvent) {
			return nil, NewValidationError("Dispatch", "INVALID_EVENT", err.Error(), ErrInvalidEvent)
		}

		return nil, err
	}

	runs := make([]*models.ExecutionRun, 0, len(matches))

	for _, match := range matches {
		run, err := e.engine.Execute(ctx, match.Snapshot, match.TriggerStepID, event.Payload)
		if err != nil {
			e.logger.ErrorContext(ctx, "Run failed to start", "workflow_id", match.WorkflowID, "error", err)
		}

		if run != nil {
			runs = append(runs, run)
		}
	}

	return runs, nil
}

// HandleEvent adapts Dispatch to an event bus handler.
func (e *Execution) HandleEvent(ctx context.Context, event any) error {
	inbound, ok := event.(events.Inbound)
	if !ok {
		return fmt.Errorf("%w: %T cannot fire triggers", ErrInvalidEvent, event)
	}

	_, err := e.Dispatch(ctx, inbound.ToEvent())

	return err
}

// Decision is a human answer to an approval step.
type Decision struct {
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
}

func (e *Execution) Approve(ctx context.Context, runID, stepID string, decision Decision) (*models.ExecutionRun, error) {
	return e.resume(ctx, "Approve", runID, engine.Signal{Kind: engine.SignalApprove, StepID: stepID, Actor: decision.Actor, Comment: decision.Comment})
}

func (e *Execution) Reject(ctx context.Context, runID, stepID string, decision Decision) (*models.ExecutionRun, error) {
	return e.resume(ctx, "Reject", runID, engine.Signal{Kind: engine.SignalReject, StepID: stepID, Actor: decision.Actor, Comment: decision.Comment})
}

func (e *Execution) resume(ctx context.Context, op, runID string, signal engine.Signal) (*models.ExecutionRun, error) {
	run, err := e.engine.Resume(ctx, runID, signal)
	if err != nil {
		return run, resumeError(op, err)
	}

	return run, nil
}

func (e *Execution) GetRun(ctx context.Context, runID string) (*models.ExecutionRun, error) {
	return e.persistence.RunRepository().GetByID(ctx, runID)
}

func (e *Execution) ListRuns(ctx context.Context, workflowID string) ([]*models.ExecutionRun, error) {
	return e.persistence.RunRepository().ListByWorkflow(ctx, workflowID)
}

// Trace returns the ordered trace of a run that exists.
func (e *Execution) Trace(ctx context.Context, runID string) ([]models.TraceEntry, error) {
	if _, err := e.persistence.RunRepository().GetByID(ctx, runID); err != nil {
		return nil, err
	}

	return e.persistence.TraceRepository().Read(ctx, runID)
}
