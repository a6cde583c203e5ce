package services

import (
	"testing"

	"github.com/dukex/flowbase/pkg/actions/approval"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_TestRun(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	result, err := ts.execution.TestRun(t.Context(), TestRunRequest{
		WorkflowID:  created.ID,
		TriggerData: map[string]any{"formData": map[string]any{"name": "A", "email": "a@x.com"}},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Equal(t, models.RunStatusSucceeded, result.Status)
	assert.Equal(t, []string{"trigger-matched", "step1-success", "step2-success"}, result.Logs)

	require.Len(t, ts.sent, 1)
	assert.Equal(t, []string{"a@x.com"}, ts.sent[0].To)
	assert.Equal(t, "Welcome A", ts.sent[0].Subject)

	trace, err := ts.execution.Trace(t.Context(), result.RunID)
	require.NoError(t, err)
	assert.Len(t, trace, 3)
}

func TestExecution_TestRunReportsStepFailure(t *testing.T) {
	ts := newTestServices(t)

	wf := signupWorkflow()
	wf.Steps[1].ActionType = "explode"
	wf.Steps[1].Config = nil

	created, err := ts.workflow.Create(t.Context(), wf)
	require.NoError(t, err)

	result, err := ts.execution.TestRun(t.Context(), TestRunRequest{WorkflowID: created.ID, TriggerStepID: "trigger"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "exploded")
	assert.Equal(t, []string{"trigger-matched", "step1-failed", "step2-skipped"}, result.Logs)
}

func TestExecution_TestRunRejectsInvalidWorkflow(t *testing.T) {
	ts := newTestServices(t)

	wf := signupWorkflow()
	wf.Steps[2].ActionType = "does-not-exist"

	created, err := ts.workflow.Create(t.Context(), wf)
	require.NoError(t, err)

	_, err = ts.execution.TestRun(t.Context(), TestRunRequest{WorkflowID: created.ID})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestExecution_DispatchStartsOneRunPerEvent(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	_, err = ts.workflow.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	event := models.Event{
		Type:     models.TriggerTypeFormSubmission,
		SourceID: "5",
		Payload:  map[string]any{"name": "B", "email": "b@x.com"},
	}

	first, err := ts.execution.Dispatch(t.Context(), event)
	require.NoError(t, err)

	second, err := ts.execution.Dispatch(t.Context(), event)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)

	runs, err := ts.execution.ListRuns(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Len(t, ts.sent, 2)
}

func TestExecution_DispatchDropsUnmatchedEvent(t *testing.T) {
	ts := newTestServices(t)

	runs, err := ts.execution.Dispatch(t.Context(), models.Event{Type: models.TriggerTypeFormSubmission, SourceID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = ts.execution.Dispatch(t.Context(), models.Event{Type: "webhook", SourceID: "x"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestExecution_ApprovalDecisions(t *testing.T) {
	ts := newTestServices(t)

	wf := signupWorkflow()
	wf.Steps[1] = &models.Step{ID: "step1", Kind: models.StepKindAction, ActionType: approval.Type, Config: map[string]any{"approver": "boss@x.com"}}

	created, err := ts.workflow.Create(t.Context(), wf)
	require.NoError(t, err)

	result, err := ts.execution.TestRun(t.Context(), TestRunRequest{WorkflowID: created.ID, TriggerData: map[string]any{"email": "c@x.com"}})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSuspended, result.Status)

	_, err = ts.execution.Approve(t.Context(), result.RunID, "step2", Decision{Actor: "boss@x.com"})
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	run, err := ts.execution.Approve(t.Context(), result.RunID, "step1", Decision{Actor: "boss@x.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.Len(t, ts.sent, 1)
	assert.Equal(t, []string{"c@x.com"}, ts.sent[0].To)

	_, err = ts.execution.Reject(t.Context(), result.RunID, "step1", Decision{})
	assert.True(t, IsConflictError(err))
}

func TestExecution_SuspendedRunKeepsItsSnapshotAfterEdit(t *testing.T) {
	ts := newTestServices(t)
	ctx := t.Context()

	wf := signupWorkflow()
	wf.Steps[1] = &models.Step{ID: "step1", Kind: models.StepKindAction, ActionType: approval.Type, Config: map[string]any{"approver": "boss@x.com"}}

	created, err := ts.workflow.Create(ctx, wf)
	require.NoError(t, err)

	_, err = ts.workflow.Activate(ctx, created.ID)
	require.NoError(t, err)

	runs, err := ts.execution.Dispatch(ctx, models.Event{
		ID:       "evt-1",
		Type:     models.TriggerTypeFormSubmission,
		SourceID: "5",
		Payload:  map[string]any{"email": "d@x.com", "name": "D"},
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, models.RunStatusSuspended, runs[0].Status)

	// while the run waits, the email step is replaced by a failing one
	edited, err := ts.workflow.ReplaceSteps(ctx, created.ID, ReplaceStepsRequest{
		Steps: []*models.Step{
			{ID: "trigger", Kind: models.StepKindTrigger},
			{ID: "step1", Kind: models.StepKindAction, ActionType: approval.Type, Config: map[string]any{"approver": "boss@x.com"}},
			{ID: "step3", Kind: models.StepKindAction, ActionType: "explode"},
		},
		Connections: []*models.Connection{
			{From: "trigger", To: "step1"},
			{From: "step1", To: "step3"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, edited.Version)

	run, err := ts.execution.Approve(ctx, runs[0].ID, "step1", Decision{Actor: "boss@x.com"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, run.WorkflowVersion)
	assert.Len(t, run.Snapshot.Steps, 3)
	assert.Equal(t, models.StepStatusSucceeded, run.Steps["step2"].Status)
	assert.NotContains(t, run.Steps, "step3")

	require.Len(t, ts.sent, 1)
	assert.Equal(t, []string{"d@x.com"}, ts.sent[0].To)
	assert.Equal(t, "Welcome D", ts.sent[0].Subject)
}
