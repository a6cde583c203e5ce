package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowbase/pkg/actions/approval"
	"github.com/dukex/flowbase/pkg/actions/sendemail"
	"github.com/dukex/flowbase/pkg/actions/updatedatabase"
	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/persistence/file"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/dukex/flowbase/pkg/trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServices struct {
	persistence *file.Persistence
	index       *trigger.Index
	workflow    *Workflow
	execution   *Execution

	mu   sync.Mutex
	sent []sendemail.Message
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()

	ts := &testServices{
		persistence: file.NewPersistence(t.TempDir()),
		index:       trigger.NewIndex(),
	}

	reg := registry.NewRegistry(slog.Default(), registry.WithRetryPolicy(registry.RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}))

	require.NoError(t, reg.Register(sendemail.NewActionFactory(sendemail.MailerFunc(func(_ context.Context, msg sendemail.Message) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()

		ts.sent = append(ts.sent, msg)

		return nil
	}))))
	require.NoError(t, reg.Register(updatedatabase.NewActionFactory(ts.persistence.RecordRepository())))
	require.NoError(t, reg.Register(approval.NewActionFactory()))
	require.NoError(t, reg.RegisterHandler("explode", func(context.Context, protocol.Input) (*protocol.Result, error) {
		return nil, errors.New("exploded")
	}, nil))

	validator := graph.NewValidator(reg)
	eng := engine.New(slog.Default(), reg, ts.persistence.RunRepository(), ts.persistence.TraceRepository())
	matcher := trigger.NewMatcher(slog.Default(), ts.index, ts.persistence.WorkflowRepository())

	ts.workflow = NewWorkflow(slog.Default(), ts.persistence, validator, ts.index)
	ts.execution = NewExecution(slog.Default(), ts.persistence, eng, matcher, validator)

	return ts
}

func signupWorkflow() *models.Workflow {
	return &models.Workflow{
		Name: "Signup follow-up",
		Steps: []*models.Step{
			{ID: "trigger", Kind: models.StepKindTrigger, ActionType: string(models.TriggerTypeFormSubmission)},
			{ID: "step1", Kind: models.StepKindAction, ActionType: updatedatabase.Type, Config: map[string]any{
				"table":  "7",
				"fields": map[string]any{"email": "{{formData.email}}"},
			}},
			{ID: "step2", Kind: models.StepKindAction, ActionType: sendemail.Type, Config: map[string]any{
				"recipient": "{{formData.email}}",
				"subject":   "Welcome {{formData.name}}",
				"body":      "Thanks for signing up",
			}},
		},
		Connections: []*models.Connection{
			{From: "trigger", To: "step1"},
			{From: "step1", To: "step2"},
		},
		Triggers: []*models.Trigger{
			{StepID: "trigger", Type: models.TriggerTypeFormSubmission, SourceID: "5"},
		},
	}
}

func TestWorkflow_Create(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.IsActive)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.ID, created.Triggers[0].WorkflowID)
	assert.NotEmpty(t, created.Triggers[0].ID)
	assert.NotEmpty(t, created.Connections[0].ID)

	fetched, err := ts.workflow.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, fetched.Name)
}

func TestWorkflow_CreateRequiresName(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.workflow.Create(t.Context(), &models.Workflow{Name: "ab"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	_, err = ts.workflow.Create(t.Context(), nil)
	assert.ErrorIs(t, err, ErrWorkflowNil)
}

func TestWorkflow_FetchByIDNotFound(t *testing.T) {
	ts := newTestServices(t)

	_, err := ts.workflow.FetchByID(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflow_ActivateRejectsInvalidGraph(t *testing.T) {
	ts := newTestServices(t)

	wf := signupWorkflow()
	wf.Connections = append(wf.Connections, &models.Connection{From: "step2", To: "step1"})

	created, err := ts.workflow.Create(t.Context(), wf)
	require.NoError(t, err)

	_, err = ts.workflow.Activate(t.Context(), created.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var validationErr *graph.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.True(t, validationErr.Has(graph.CodeCycle))
	assert.Zero(t, ts.index.Len())

	stored, err := ts.workflow.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestWorkflow_ActivateAndDeactivate(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	activated, err := ts.workflow.Activate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	entries, ok := ts.index.Lookup(models.TriggerTypeFormSubmission, "5")
	require.True(t, ok)
	assert.Equal(t, created.ID, entries[0].WorkflowID)

	_, err = ts.workflow.Deactivate(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Zero(t, ts.index.Len())
}

func TestWorkflow_ReplaceStepsBumpsVersion(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	original := signupWorkflow()

	updated, err := ts.workflow.ReplaceSteps(t.Context(), created.ID, ReplaceStepsRequest{
		Steps:       original.Steps[:2],
		Connections: original.Connections[:1],
		Layout:      map[string]models.Position{"trigger": {X: 10, Y: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Len(t, updated.Steps, 2)
	assert.Equal(t, models.Position{X: 10, Y: 20}, updated.Layout["trigger"])

	name := "Renamed workflow"
	renamed, err := ts.workflow.Update(t.Context(), created.ID, UpdateWorkflowRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, 2, renamed.Version)
	assert.Equal(t, name, renamed.Name)
}

func TestWorkflow_ActiveEditsMustStayValid(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	_, err = ts.workflow.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = ts.workflow.ClearSteps(t.Context(), created.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := ts.workflow.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Steps, 3)
	assert.Equal(t, 1, stored.Version)
}

func TestWorkflow_Delete(t *testing.T) {
	ts := newTestServices(t)

	created, err := ts.workflow.Create(t.Context(), signupWorkflow())
	require.NoError(t, err)

	_, err = ts.workflow.Activate(t.Context(), created.ID)
	require.NoError(t, err)

	require.NoError(t, ts.workflow.Delete(t.Context(), created.ID))
	assert.Zero(t, ts.index.Len())

	err = ts.workflow.Delete(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

// relayPublisher hands published workflow events to another service, the
// way the bus delivers them to another process.
type relayPublisher struct {
	target *Workflow
	types  []events.EventType
}

func (r *relayPublisher) Publish(ctx context.Context, _ string, event eventbus.Event) error {
	r.types = append(r.types, event.GetType())

	switch e := event.(type) {
	case events.WorkflowActivated:
		return r.target.OnWorkflowChanged(ctx, &e)
	case events.WorkflowDeactivated:
		return r.target.OnWorkflowChanged(ctx, &e)
	}

	return nil
}

func TestWorkflow_ActivationReachesOtherIndexes(t *testing.T) {
	ts := newTestServices(t)
	ctx := t.Context()

	remoteIndex := trigger.NewIndex()
	remote := NewWorkflow(slog.Default(), ts.persistence, ts.workflow.validator, remoteIndex)

	relay := &relayPublisher{target: remote}
	local := NewWorkflow(slog.Default(), ts.persistence, ts.workflow.validator, ts.index, WithPublisher(relay))

	created, err := local.Create(ctx, signupWorkflow())
	require.NoError(t, err)
	assert.Empty(t, relay.types)

	_, err = local.Activate(ctx, created.ID)
	require.NoError(t, err)

	entries, ok := remoteIndex.Lookup(models.TriggerTypeFormSubmission, "5")
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, created.ID, entries[0].WorkflowID)

	// retargeting the trigger of an active workflow moves it in the remote index
	_, err = local.ReplaceTriggers(ctx, created.ID, []*models.Trigger{
		{StepID: "trigger", Type: models.TriggerTypeFormSubmission, SourceID: "6"},
	})
	require.NoError(t, err)

	_, ok = remoteIndex.Lookup(models.TriggerTypeFormSubmission, "5")
	assert.False(t, ok)
	_, ok = remoteIndex.Lookup(models.TriggerTypeFormSubmission, "6")
	assert.True(t, ok)

	_, err = local.Deactivate(ctx, created.ID)
	require.NoError(t, err)
	assert.Zero(t, remoteIndex.Len())

	assert.Equal(t, []events.EventType{
		events.WorkflowActivatedEvent,
		events.WorkflowActivatedEvent,
		events.WorkflowDeactivatedEvent,
	}, relay.types)
}

func TestWorkflow_OnWorkflowChangedTrustsStore(t *testing.T) {
	ts := newTestServices(t)
	ctx := t.Context()

	created, err := ts.workflow.Create(ctx, signupWorkflow())
	require.NoError(t, err)

	// a stale activation for a workflow that is inactive in the store
	event := events.NewWorkflowActivated(created.ID, created.Version)
	require.NoError(t, ts.workflow.OnWorkflowChanged(ctx, &event))
	assert.Zero(t, ts.index.Len())

	_, err = ts.workflow.Activate(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, 1, ts.index.Len())

	require.NoError(t, ts.persistence.WorkflowRepository().Delete(ctx, created.ID))

	gone := events.NewWorkflowDeactivated(created.ID)
	require.NoError(t, ts.workflow.OnWorkflowChanged(ctx, &gone))
	assert.Zero(t, ts.index.Len())
}

func TestWorkflow_RebuildIndex(t *testing.T) {
	ts := newTestServices(t)
	ctx := t.Context()

	created, err := ts.workflow.Create(ctx, signupWorkflow())
	require.NoError(t, err)

	_, err = ts.workflow.Activate(ctx, created.ID)
	require.NoError(t, err)

	fresh := trigger.NewIndex()
	other := NewWorkflow(slog.Default(), ts.persistence, ts.workflow.validator, fresh)

	active, err := other.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, fresh.Len())
}
