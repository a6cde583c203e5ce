package engine

import (
	"github.com/dukex/flowbase/pkg/models"
)

// Keys reserved at the root of the execution context.
const (
	FormDataKey = "formData"
	TriggerKey  = "trigger"
	WorkflowKey = "workflow"
	RunKey      = "run"
)

// seedContext places the payload fields at the root so they are addressable
// directly. Form triggers also expose the payload under formData unless the
// payload already carries one. The trigger step's output is the payload.
func seedContext(run *models.ExecutionRun, trigger *models.Trigger, payload map[string]any) map[string]any {
	ctx := models.CloneMap(payload)
	if ctx == nil {
		ctx = map[string]any{}
	}

	triggerMeta := map[string]any{"step_id": run.TriggerStepID}

	if trigger != nil {
		triggerMeta["type"] = string(trigger.Type)
		triggerMeta["source_id"] = trigger.SourceID

		if trigger.Type == models.TriggerTypeFormSubmission {
			if _, ok := ctx[FormDataKey]; !ok {
				ctx[FormDataKey] = models.CloneMap(payload)
			}
		}
	}

	ctx[TriggerKey] = triggerMeta
	ctx[WorkflowKey] = map[string]any{
		"id":      run.Snapshot.ID,
		"name":    run.Snapshot.Name,
		"version": run.Snapshot.Version,
	}
	ctx[RunKey] = map[string]any{"id": run.ID}
	ctx[run.TriggerStepID] = models.CloneMap(payload)

	return ctx
}
