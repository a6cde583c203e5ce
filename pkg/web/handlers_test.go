package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/flowbase/pkg/actions/approval"
	"github.com/dukex/flowbase/pkg/actions/sendemail"
	"github.com/dukex/flowbase/pkg/engine"
	"github.com/dukex/flowbase/pkg/fieldmap"
	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence/file"
	"github.com/dukex/flowbase/pkg/registry"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/dukex/flowbase/pkg/trigger"
	"github.com/dukex/flowbase/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	index := trigger.NewIndex()

	reg := registry.NewRegistry(slog.Default())
	require.NoError(t, reg.Register(sendemail.NewActionFactory(sendemail.MailerFunc(func(context.Context, sendemail.Message) error {
		return nil
	}))))
	require.NoError(t, reg.Register(approval.NewActionFactory()))

	graphValidator := graph.NewValidator(reg)
	eng := engine.New(slog.Default(), reg, persistence.RunRepository(), persistence.TraceRepository())
	matcher := trigger.NewMatcher(slog.Default(), index, persistence.WorkflowRepository())

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(slog.Default(), persistence, graphValidator, index),
		services.NewExecution(slog.Default(), persistence, eng, matcher, graphValidator),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
	)

	app := fiber.New()
	handlers.Routes(app)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func emailWorkflow() web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		Name: "Contact form",
		Steps: []*models.Step{
			{ID: "trigger", Kind: models.StepKindTrigger},
			{ID: "notify", Kind: models.StepKindAction, ActionType: sendemail.Type, Config: map[string]any{
				"recipient": "{{formData.email}}",
				"subject":   "Hi {{formData.name}}",
				"body":      "Got it",
			}},
		},
		Connections: []*models.Connection{{From: "trigger", To: "notify"}},
		Triggers:    []*models.Trigger{{StepID: "trigger", Type: models.TriggerTypeFormSubmission, SourceID: "contact"}},
	}
}

func createWorkflow(t *testing.T, app *fiber.App, req web.CreateWorkflowRequest) models.Workflow {
	t.Helper()

	resp, body := doJSON(t, app, http.MethodPost, "/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var workflow models.Workflow
	require.NoError(t, json.Unmarshal(body, &workflow))

	return workflow
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    emailWorkflow(),
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "name too short",
			requestBody:    web.CreateWorkflowRequest{Name: "ab"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "step without id",
			requestBody:    web.CreateWorkflowRequest{Name: "Broken", Steps: []*models.Step{{Kind: models.StepKindAction}}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			resp, body := doJSON(t, app, http.MethodPost, "/workflows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))
		})
	}
}

func TestAPIHandlers_GetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "workflow_not_found")
}

func TestAPIHandlers_ValidateAndActivate(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	broken := emailWorkflow()
	broken.Connections = append(broken.Connections, &models.Connection{From: "notify", To: "notify"})
	workflow := createWorkflow(t, app, broken)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var validation web.ValidationResponse
	require.NoError(t, json.Unmarshal(body, &validation))
	assert.False(t, validation.Valid)
	assert.NotEmpty(t, validation.Problems)

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem struct {
		Type     string          `json:"type"`
		Problems []graph.Problem `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "invalid_workflow", problem.Type)
	assert.NotEmpty(t, problem.Problems)

	fixed := emailWorkflow()
	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/steps", web.ReplaceStepsRequest{
		Steps:       fixed.Steps,
		Connections: fixed.Connections,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var activated models.Workflow
	require.NoError(t, json.Unmarshal(body, &activated))
	assert.True(t, activated.IsActive)
	assert.Equal(t, 2, activated.Version)
}

func TestAPIHandlers_ExecuteWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := createWorkflow(t, app, emailWorkflow())

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/execute", web.ExecuteWorkflowRequest{
		WorkflowID:  workflow.ID,
		TriggerData: map[string]any{"formData": map[string]any{"email": "a@x.com", "name": "A"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result services.TestRunResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, []string{"trigger-matched", "notify-success"}, result.Logs)

	resp, body = doJSON(t, app, http.MethodGet, "/runs/"+result.RunID+"/trace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var trace []models.TraceEntry
	require.NoError(t, json.Unmarshal(body, &trace))
	assert.Len(t, trace, 2)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/execute", web.ExecuteWorkflowRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_ReceiveEvent(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	workflow := createWorkflow(t, app, emailWorkflow())

	event := web.EventRequest{
		Type:     models.TriggerTypeFormSubmission,
		SourceID: "contact",
		Payload:  map[string]any{"email": "b@x.com"},
	}

	resp, body := doJSON(t, app, http.MethodPost, "/events", event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var inactive web.RunsResponse
	require.NoError(t, json.Unmarshal(body, &inactive))
	assert.Empty(t, inactive.Runs)

	resp, _ = doJSON(t, app, http.MethodPost, "/workflows/"+workflow.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodPost, "/events", event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var matched web.RunsResponse
	require.NoError(t, json.Unmarshal(body, &matched))
	require.Len(t, matched.Runs, 1)
	assert.Equal(t, models.RunStatusSucceeded, matched.Runs[0].Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/events", web.EventRequest{Type: "webhook", SourceID: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIHandlers_ApprovalFlow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	req := emailWorkflow()
	req.Steps = append(req.Steps, &models.Step{
		ID:         "review",
		Kind:       models.StepKindAction,
		ActionType: approval.Type,
		Config:     map[string]any{"approver": "lead@x.com"},
	})
	req.Connections = []*models.Connection{
		{From: "trigger", To: "review"},
		{From: "review", To: "notify"},
	}
	workflow := createWorkflow(t, app, req)

	resp, body := doJSON(t, app, http.MethodPost, "/workflows/execute", web.ExecuteWorkflowRequest{
		WorkflowID:  workflow.ID,
		TriggerData: map[string]any{"email": "c@x.com"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result services.TestRunResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, models.RunStatusSuspended, result.Status)

	resp, body = doJSON(t, app, http.MethodPost, "/runs/"+result.RunID+"/steps/review/reject", web.DecisionRequest{
		Actor:   "lead@x.com",
		Comment: "not now",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var run models.ExecutionRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.StepStatusFailed, run.Steps["review"].Status)
	assert.Equal(t, models.StepStatusSkipped, run.Steps["notify"].Status)

	resp, _ = doJSON(t, app, http.MethodPost, "/runs/"+result.RunID+"/steps/review/approve", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_GetActions(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/actions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var catalog []models.RegisteredAction
	require.NoError(t, json.Unmarshal(body, &catalog))
	require.Len(t, catalog, 2)
	assert.Equal(t, approval.Type, catalog[0].Type)
	assert.NotNil(t, catalog[0].Schema)
}

func TestAPIHandlers_SuggestFieldMappings(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/field-mappings", web.FieldMappingRequest{
		FormFields: []fieldmap.Field{{Name: "Email", Type: "email"}, {Name: "notes"}},
		DBFields:   []fieldmap.Field{{Name: "email", Type: "text"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result struct {
		Mappings []fieldmap.Mapping `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	require.Len(t, result.Mappings, 1)
	assert.Equal(t, "email", result.Mappings[0].DBField)

	resp, _ = doJSON(t, app, http.MethodPost, "/field-mappings", web.FieldMappingRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
