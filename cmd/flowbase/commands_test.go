package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/flowbase/pkg/graph"
	"github.com/dukex/flowbase/pkg/persistence/file"
	"github.com/dukex/flowbase/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validWorkflow = `
name: Contact form
steps:
  - id: trigger
    kind: trigger
  - id: notify
    kind: action
    action_type: notification
    config:
      title: "New contact {{formData.name}}"
connections:
  - from: trigger
    to: notify
triggers:
  - step_id: trigger
    type: form_submission
    source_id: contact
`

const cyclicWorkflow = `
name: Loop
steps:
  - id: trigger
    kind: trigger
  - id: a
    kind: action
    action_type: notification
    config: {title: a}
  - id: b
    kind: action
    action_type: notification
    config: {title: b}
connections:
  - {from: trigger, to: a}
  - {from: a, to: b}
  - {from: b, to: a}
triggers:
  - {step_id: trigger, type: form_submission, source_id: loop}
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func testValidator(t *testing.T) *graph.Validator {
	t.Helper()

	validator, err := newValidator(t.Context(), ValidateCommand())
	require.NoError(t, err)

	return validator
}

func TestValidateFiles(t *testing.T) {
	t.Parallel()

	validator := testValidator(t)

	var out bytes.Buffer
	require.NoError(t, validateFiles(&out, validator, []string{writeWorkflow(t, validWorkflow)}))
	assert.Contains(t, out.String(), "OK: Contact form")

	out.Reset()
	err := validateFiles(&out, validator, []string{writeWorkflow(t, cyclicWorkflow)})
	require.ErrorIs(t, err, ErrInvalidWorkflows)
	assert.Contains(t, out.String(), "Invalid: Loop")
	assert.Contains(t, out.String(), "[cycle]")

	require.Error(t, validateFiles(&out, validator, nil))
}

func TestImportFiles(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	service := services.NewWorkflow(slog.Default(), store, testValidator(t), nil)

	var out bytes.Buffer
	require.NoError(t, importFiles(t.Context(), &out, service, []string{writeWorkflow(t, validWorkflow)}, true))
	assert.Contains(t, out.String(), "Imported: Contact form")

	workflows, err := store.WorkflowRepository().ListActive(t.Context())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "contact", workflows[0].Triggers[0].SourceID)

	err = importFiles(t.Context(), &out, service, []string{writeWorkflow(t, cyclicWorkflow)}, true)
	require.Error(t, err)
	assert.True(t, graph.IsValidationError(err))
}
