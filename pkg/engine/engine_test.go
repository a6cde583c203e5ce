package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/flowbase/pkg/actions/approval"
	"github.com/dukex/flowbase/pkg/actions/condition"
	"github.com/dukex/flowbase/pkg/actions/delay"
	"github.com/dukex/flowbase/pkg/actions/sendemail"
	"github.com/dukex/flowbase/pkg/actions/updatedatabase"
	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/mocks"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/dukex/flowbase/pkg/persistence/file"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	engine    *engine.Engine
	registry  *registry.Registry
	store     *file.Persistence
	publisher *mocks.RecordingPublisher
	clock     *clock

	mu   sync.Mutex
	sent []sendemail.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     file.NewPersistence(t.TempDir()),
		publisher: &mocks.RecordingPublisher{},
		clock:     &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}

	h.registry = registry.NewRegistry(slog.Default(), registry.WithRetryPolicy(registry.RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}))

	mailer := sendemail.MailerFunc(func(_ context.Context, msg sendemail.Message) error {
		h.mu.Lock()
		defer h.mu.Unlock()

		h.sent = append(h.sent, msg)

		return nil
	})

	require.NoError(t, h.registry.Register(sendemail.NewActionFactory(mailer)))
	require.NoError(t, h.registry.Register(updatedatabase.NewActionFactory(h.store.RecordRepository())))
	require.NoError(t, h.registry.Register(condition.NewActionFactory()))
	require.NoError(t, h.registry.Register(delay.NewActionFactory()))
	require.NoError(t, h.registry.Register(approval.NewActionFactory()))

	require.NoError(t, h.registry.RegisterHandler("echo", func(_ context.Context, input protocol.Input) (*protocol.Result, error) {
		return &protocol.Result{Output: map[string]any{"step": input.StepID}}, nil
	}, nil))

	require.NoError(t, h.registry.RegisterHandler("explode", func(context.Context, protocol.Input) (*protocol.Result, error) {
		return nil, errors.New("boom")
	}, nil))

	h.engine = engine.New(slog.Default(), h.registry, h.store.RunRepository(), h.store.TraceRepository(),
		engine.WithPublisher(h.publisher),
		engine.WithClock(h.clock.Now),
	)

	return h
}

func (h *harness) labels(t *testing.T, runID string) []string {
	t.Helper()

	entries, err := h.store.TraceRepository().Read(t.Context(), runID)
	require.NoError(t, err)

	labels := make([]string, 0, len(entries))
	for _, entry := range entries {
		labels = append(labels, entry.Label())
	}

	return labels
}

func formTrigger(stepID string) *models.Trigger {
	return &models.Trigger{ID: "tr-" + stepID, StepID: stepID, Type: models.TriggerTypeFormSubmission, SourceID: "5"}
}

func workflow(steps []*models.Step, connections []*models.Connection) *models.Workflow {
	return &models.Workflow{
		ID:          "wf-1",
		Name:        "Test workflow",
		Version:     1,
		Steps:       steps,
		Connections: connections,
		Triggers:    []*models.Trigger{formTrigger("trigger")},
	}
}

func triggerStep() *models.Step {
	return &models.Step{ID: "trigger", Kind: models.StepKindTrigger}
}

func action(id, actionType string, config map[string]any) *models.Step {
	return &models.Step{ID: id, Kind: models.StepKindAction, ActionType: actionType, Config: config}
}

func edge(from, to string) *models.Connection {
	return &models.Connection{ID: from + "-" + to, From: from, To: to}
}

func branch(from, to string, b models.Branch) *models.Connection {
	return &models.Connection{ID: from + "-" + to, From: from, To: to, Branch: b}
}

func TestEngine_FormSubmissionToDatabaseToEmail(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	wf := workflow(
		[]*models.Step{
			triggerStep(),
			action("step1", updatedatabase.Type, map[string]any{
				"table":  "7",
				"fields": map[string]any{"name": "{{formData.name}}", "email": "{{formData.email}}"},
			}),
			action("step2", sendemail.Type, map[string]any{
				"recipient": "{{formData.email}}",
				"subject":   "Welcome",
				"body":      "Hello {{formData.name}}",
			}),
		},
		[]*models.Connection{edge("trigger", "step1"), edge("step1", "step2")},
	)

	run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{
		"formData": map[string]any{"name": "A", "email": "a@x.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, []string{"trigger-matched", "step1-success", "step2-success"}, h.labels(t, run.ID))

	require.Len(t, h.sent, 1)
	assert.Equal(t, []string{"a@x.com"}, h.sent[0].To)
	assert.Equal(t, "Hello A", h.sent[0].Body)
	assert.Equal(t, "a@x.com", run.Context["step2"].(map[string]any)["recipient"])

	recordID := run.Context["step1"].(map[string]any)["record_id"].(string)
	record, err := h.store.RecordRepository().GetByID(t.Context(), "7", recordID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "A", "email": "a@x.com"}, record.Fields)

	stored, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Empty(t, stored.Frontier)

	assert.Equal(t, []events.EventType{events.RunStartedEvent, events.RunCompletedEvent}, h.publisher.Types())
}

func TestEngine_FailureHaltsOnlyItsBranch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	wf := workflow(
		[]*models.Step{
			triggerStep(),
			action("a", "explode", nil),
			action("a2", "echo", nil),
			action("b", "echo", nil),
			action("b2", "echo", nil),
		},
		[]*models.Connection{edge("trigger", "a"), edge("a", "a2"), edge("trigger", "b"), edge("b", "b2")},
	)

	run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.StepStatusFailed, run.Steps["a"].Status)
	assert.Equal(t, models.ErrorKindStepExecution, run.Steps["a"].ErrorKind)
	assert.Contains(t, run.Steps["a"].Error, "boom")
	assert.Equal(t, models.StepStatusSkipped, run.Steps["a2"].Status)
	assert.Equal(t, models.StepStatusSucceeded, run.Steps["b"].Status)
	assert.Equal(t, models.StepStatusSucceeded, run.Steps["b2"].Status)

	labels := h.labels(t, run.ID)
	assert.ElementsMatch(t, []string{"trigger-matched", "a-failed", "a2-skipped", "b-success", "b2-success"}, labels)

	completed, ok := h.publisher.Events()[1].(events.RunCompleted)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, completed.FailedSteps)
}

func TestEngine_ConditionActivatesOneBranch(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		age      int
		executed string
		skipped  string
	}{
		{age: 20, executed: "adult", skipped: "minor"},
		{age: 12, executed: "minor", skipped: "adult"},
	} {
		h := newHarness(t)

		wf := workflow(
			[]*models.Step{
				triggerStep(),
				action("check", condition.Type, map[string]any{"expression": "formData.age >= 18"}),
				action("adult", "echo", nil),
				action("minor", "echo", nil),
			},
			[]*models.Connection{
				edge("trigger", "check"),
				branch("check", "adult", models.BranchTrue),
				branch("check", "minor", models.BranchFalse),
			},
		)

		run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{"formData": map[string]any{"age": tc.age}})
		require.NoError(t, err)

		assert.Equal(t, models.StepStatusSucceeded, run.Steps[tc.executed].Status)
		assert.Equal(t, models.StepStatusSkipped, run.Steps[tc.skipped].Status)
		assert.Equal(t, models.RunStatusSucceeded, run.Status)
	}
}

func TestEngine_JoinWaitsForEveryPredecessor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var (
		mu    sync.Mutex
		calls int
		seen  map[string]any
	)

	require.NoError(t, h.registry.RegisterHandler("join", func(_ context.Context, input protocol.Input) (*protocol.Result, error) {
		mu.Lock()
		defer mu.Unlock()

		calls++
		seen = input.Context

		return &protocol.Result{Output: "joined"}, nil
	}, nil))

	wf := workflow(
		[]*models.Step{
			triggerStep(),
			action("a", "echo", nil),
			action("b", "echo", nil),
			action("j", "join", nil),
		},
		[]*models.Connection{edge("trigger", "a"), edge("trigger", "b"), edge("a", "j"), edge("b", "j")},
	)

	run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]any{"step": "a"}, seen["a"])
	assert.Equal(t, map[string]any{"step": "b"}, seen["b"])
	assert.Equal(t, "joined", run.Context["j"])

	labels := h.labels(t, run.ID)
	assert.Equal(t, "j-success", labels[len(labels)-1])
}

func TestEngine_FanOutStepsRunConcurrently(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var (
		arrived atomic.Int32
		both    = make(chan struct{})
	)

	// each sibling only finishes once the other one has started
	require.NoError(t, h.registry.RegisterHandler("rendezvous", func(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
		if arrived.Add(1) == 2 {
			close(both)
		}

		select {
		case <-both:
			return &protocol.Result{Output: input.StepID}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling never started")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil))

	wf := workflow(
		[]*models.Step{
			triggerStep(),
			action("a", "rendezvous", nil),
			action("b", "rendezvous", nil),
		},
		[]*models.Connection{edge("trigger", "a"), edge("trigger", "b")},
	)

	run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusSucceeded, run.Steps["a"].Status)
	assert.Equal(t, models.StepStatusSucceeded, run.Steps["b"].Status)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
}

func TestEngine_DelaySuspendsAndWakes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	wf := workflow(
		[]*models.Step{
			triggerStep(),
			action("wait", delay.Type, map[string]any{"duration": "1h"}),
			action("after", "echo", nil),
		},
		[]*models.Connection{edge("trigger", "wait"), edge("wait", "after")},
	)

	run, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSuspended, run.Status)
	assert.Equal(t, models.StepStatusPending, run.Steps["after"].Status)
	require.Len(t, run.Waits, 1)
	assert.Equal(t, h.clock.Now().Add(time.Hour), run.Waits[0].DueAt)
	assert.Equal(t, []string{"wait"}, run.Frontier)

	early, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalWake})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuspended, early.Status)

	h.clock.Advance(2 * time.Hour)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalWake})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, resumed.Status)
	assert.Empty(t, resumed.Waits)
	assert.Equal(t,
		[]string{"trigger-matched", "wait-suspended", "wait-resumed", "wait-success", "after-success"},
		h.labels(t, run.ID),
	)

	_, err = h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalWake})
	assert.ErrorIs(t, err, engine.ErrRunNotSuspended)
}

func approvalWorkflow() *models.Workflow {
	return workflow(
		[]*models.Step{
			triggerStep(),
			action("approve", approval.Type, map[string]any{"approver": "boss@x.com", "message": "Ok?", "timeout": "1h"}),
			action("after", "echo", nil),
		},
		[]*models.Connection{edge("trigger", "approve"), edge("approve", "after")},
	)
}

func TestEngine_ApprovalApproved(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	run, err := h.engine.Execute(t.Context(), approvalWorkflow(), "trigger", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSuspended, run.Status)

	_, err = h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalApprove, StepID: "after"})
	require.ErrorIs(t, err, engine.ErrNoPendingWait)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalApprove, StepID: "approve", Actor: "boss@x.com"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, resumed.Status)
	assert.Equal(t, models.StepStatusSucceeded, resumed.Steps["after"].Status)

	output := resumed.Context["approve"].(map[string]any)
	assert.Equal(t, true, output["approved"])
	assert.Equal(t, "boss@x.com", output["decided_by"])
}

func TestEngine_ApprovalRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	run, err := h.engine.Execute(t.Context(), approvalWorkflow(), "trigger", map[string]any{})
	require.NoError(t, err)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalReject, StepID: "approve", Actor: "boss@x.com", Comment: "no budget"})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusSucceeded, resumed.Status)
	assert.Equal(t, models.StepStatusFailed, resumed.Steps["approve"].Status)
	assert.Equal(t, models.ErrorKindRejected, resumed.Steps["approve"].ErrorKind)
	assert.Contains(t, resumed.Steps["approve"].Error, "no budget")
	assert.Equal(t, models.StepStatusSkipped, resumed.Steps["after"].Status)
}

func TestEngine_ApprovalTimeoutRejects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	run, err := h.engine.Execute(t.Context(), approvalWorkflow(), "trigger", map[string]any{})
	require.NoError(t, err)

	h.clock.Advance(90 * time.Minute)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalWake})
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusFailed, resumed.Steps["approve"].Status)
	assert.Equal(t, models.ErrorKindTimeout, resumed.Steps["approve"].ErrorKind)
	assert.Equal(t, models.StepStatusSkipped, resumed.Steps["after"].Status)
	assert.Equal(t,
		[]string{"trigger-matched", "approve-suspended", "approve-resumed", "approve-failed", "after-skipped"},
		h.labels(t, run.ID),
	)
}

func TestEngine_LateApprovalLosesToTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	run, err := h.engine.Execute(t.Context(), approvalWorkflow(), "trigger", map[string]any{})
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalApprove, StepID: "approve"})
	require.Error(t, err)
	assert.True(t, engine.IsTimeoutError(err))
	assert.Equal(t, models.ErrorKindTimeout, resumed.Steps["approve"].ErrorKind)
}

// staleRuns serves a copy of the run loaded before another process saved it.
type staleRuns struct {
	persistence.RunRepository

	run *models.ExecutionRun
}

func (s staleRuns) GetByID(context.Context, string) (*models.ExecutionRun, error) {
	return s.run, nil
}

func TestEngine_ResumeLosesToConcurrentResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	run, err := h.engine.Execute(t.Context(), approvalWorkflow(), "trigger", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSuspended, run.Status)

	stale, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)

	resumed, err := h.engine.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalApprove, StepID: "approve", Actor: "boss@x.com"})
	require.NoError(t, err)
	require.Equal(t, models.RunStatusSucceeded, resumed.Status)

	other := engine.New(slog.Default(), h.registry, staleRuns{RunRepository: h.store.RunRepository(), run: stale}, h.store.TraceRepository())

	_, err = other.Resume(t.Context(), run.ID, engine.Signal{Kind: engine.SignalReject, StepID: "approve", Actor: "someone@x.com"})
	require.ErrorIs(t, err, engine.ErrRunClaimed)

	stored, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, models.StepStatusSucceeded, stored.Steps["after"].Status)
	assert.Equal(t,
		[]string{"trigger-matched", "approve-suspended", "approve-resumed", "approve-success", "after-success"},
		h.labels(t, run.ID),
	)
}

func TestEngine_InvalidTriggerFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	wf := workflow([]*models.Step{triggerStep(), action("step1", "echo", nil)}, []*models.Connection{edge("trigger", "step1")})

	run, err := h.engine.Execute(t.Context(), wf, "step1", map[string]any{})
	require.ErrorIs(t, err, engine.ErrInvalidTrigger)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	stored, err := h.store.RunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, []events.EventType{events.RunFailedEvent}, h.publisher.Types())
}

func TestEngine_MissingFormDataInterpolatesEmpty(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	var got protocol.Input

	require.NoError(t, h.registry.RegisterHandler("capture", func(_ context.Context, input protocol.Input) (*protocol.Result, error) {
		got = input

		return &protocol.Result{}, nil
	}, nil))

	wf := workflow(
		[]*models.Step{triggerStep(), action("step1", "capture", map[string]any{"to": "{{formData.email}}", "name": "Hi {{formData.missing}}!"})},
		[]*models.Connection{edge("trigger", "step1")},
	)

	_, err := h.engine.Execute(t.Context(), wf, "trigger", map[string]any{"email": "b@x.com"})
	require.NoError(t, err)

	assert.Equal(t, "b@x.com", got.Config["to"])
	assert.Equal(t, "Hi !", got.Config["name"])
	assert.Equal(t, "b@x.com", got.Context["email"])
}
