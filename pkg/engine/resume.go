package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/otelhelper"
	"github.com/dukex/flowbase/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

type SignalKind string

const (
	// SignalWake releases every wait whose DueAt has passed. Due delays
	// succeed; due approvals time out and are rejected.
	SignalWake    SignalKind = "wake"
	SignalApprove SignalKind = "approve"
	SignalReject  SignalKind = "reject"
)

// Signal resumes a suspended run. StepID is required for approve and reject.
type Signal struct {
	Kind    SignalKind
	StepID  string
	Actor   string
	Comment string
}

// Resume applies signal to a suspended run and drives it on from its
// persisted snapshot. A wake with nothing due returns the run unchanged.
func (e *Engine) Resume(ctx context.Context, runID string, signal Signal) (*models.ExecutionRun, error) {
	unlock := e.locks.lock(runID)
	defer unlock()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.SignalKey, string(signal.Kind)),
		attribute.String(otelhelper.StepIDKey, signal.StepID),
	)
	defer span.End()

	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if run.Status != models.RunStatusSuspended {
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotSuspended, runID, run.Status)
	}

	if run.Snapshot == nil {
		return run, ErrNoSnapshot
	}

	logger := e.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID)
	now := e.now()

	var signalErr error

	switch signal.Kind {
	case SignalWake:
		due := run.DueWaits(now)
		if len(due) == 0 {
			return run, nil
		}

		if err := e.claim(ctx, run); err != nil {
			otelhelper.SetError(span, err)

			return run, err
		}

		for _, wait := range due {
			if err := e.release(ctx, logger, run, wait, now); err != nil {
				return e.failRun(ctx, logger, run, err)
			}
		}
	case SignalApprove, SignalReject:
		wait, ok := run.WaitFor(signal.StepID)
		if !ok {
			return run, fmt.Errorf("%w: %s", ErrNoPendingWait, signal.StepID)
		}

		if wait.Reason != models.WaitReasonApproval {
			return run, fmt.Errorf("%w: %s waits for %s", ErrWrongWaitReason, signal.StepID, wait.Reason)
		}

		if err := e.claim(ctx, run); err != nil {
			otelhelper.SetError(span, err)

			return run, err
		}

		// A decision arriving after the deadline loses to the timeout.
		if !wait.DueAt.IsZero() && !wait.DueAt.After(now) {
			signalErr = &TimeoutError{StepID: wait.StepID, Deadline: wait.DueAt}

			if err := e.release(ctx, logger, run, wait, now); err != nil {
				return e.failRun(ctx, logger, run, err)
			}

			break
		}

		if err := e.decide(ctx, logger, run, wait, signal, now); err != nil {
			return e.failRun(ctx, logger, run, err)
		}
	default:
		return run, fmt.Errorf("unknown signal %q", signal.Kind)
	}

	if err := e.drive(ctx, logger, run, graph.Build(run.Snapshot)); err != nil {
		otelhelper.SetError(span, err)

		return run, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(run.Status)))

	return run, signalErr
}

// claim marks the run running and saves it before anything else happens.
// When another process saved the run since it was loaded, the save is
// rejected and the other process keeps driving it.
func (e *Engine) claim(ctx context.Context, run *models.ExecutionRun) error {
	run.Status = models.RunStatusRunning

	if err := e.save(ctx, run); err != nil {
		if persistence.IsRunConflict(err) {
			return fmt.Errorf("%w: %s", ErrRunClaimed, run.ID)
		}

		return err
	}

	return nil
}

// release handles a wait whose DueAt has passed.
func (e *Engine) release(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, wait models.Wait, now time.Time) error {
	run.RemoveWait(wait.StepID)

	if err := e.appendTrace(ctx, run.ID, wait.StepID, models.OutcomeResumed, map[string]any{"reason": string(wait.Reason)}); err != nil {
		return err
	}

	if wait.Reason == models.WaitReasonApproval {
		return e.failStep(ctx, logger, run, wait.StepID, &TimeoutError{StepID: wait.StepID, Deadline: wait.DueAt})
	}

	output := map[string]any{"resumed_at": now.Format(time.RFC3339)}
	if previous, ok := run.Steps[wait.StepID].Output.(map[string]any); ok {
		for k, v := range previous {
			if _, exists := output[k]; !exists {
				output[k] = v
			}
		}
	}

	return e.succeedStep(ctx, logger, run, wait.StepID, output, models.BranchNone)
}

func (e *Engine) decide(ctx context.Context, logger *slog.Logger, run *models.ExecutionRun, wait models.Wait, signal Signal, now time.Time) error {
	run.RemoveWait(wait.StepID)

	approved := signal.Kind == SignalApprove

	if err := e.appendTrace(ctx, run.ID, wait.StepID, models.OutcomeResumed, map[string]any{
		"reason":   string(wait.Reason),
		"approved": approved,
		"actor":    signal.Actor,
	}); err != nil {
		return err
	}

	if !approved {
		cause := fmt.Errorf("%w by %s", ErrApprovalRejected, actorOrUnknown(signal.Actor))
		if signal.Comment != "" {
			cause = fmt.Errorf("%w: %s", cause, signal.Comment)
		}

		return e.failStep(ctx, logger, run, wait.StepID, cause)
	}

	output := models.CloneMap(wait.Detail)
	if output == nil {
		output = map[string]any{}
	}

	output["approved"] = true
	output["decided_by"] = signal.Actor
	output["decided_at"] = now.Format(time.RFC3339)

	if signal.Comment != "" {
		output["comment"] = signal.Comment
	}

	return e.succeedStep(ctx, logger, run, wait.StepID, output, models.BranchNone)
}

func actorOrUnknown(actor string) string {
	if actor == "" {
		return "unknown"
	}

	return actor
}
