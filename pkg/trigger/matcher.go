package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Match is a workflow fired by an event. Snapshot is a private deep copy
// the run executes against.
type Match struct {
	WorkflowID    string
	TriggerStepID string
	Snapshot      *models.Workflow
}

type Matcher struct {
	index     *Index
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func NewMatcher(logger *slog.Logger, index *Index, workflows persistence.WorkflowRepository) *Matcher {
	return &Matcher{
		index:     index,
		workflows: workflows,
		logger:    logger.With("module", "trigger_matcher"),
	}
}

// OnEvent returns one Match per armed trigger the event satisfies. A
// database change whose operation is not listed yields no match and no
// error, and neither does a change written by the workflow itself.
// Identical events are not deduplicated.
func (m *Matcher) OnEvent(ctx context.Context, event models.Event) ([]Match, error) {
	if err := validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	entries, ok := m.index.Lookup(event.Type, event.SourceID)
	if !ok {
		return nil, &TriggerMatchError{Type: event.Type, SourceID: event.SourceID}
	}

	logger := m.logger.With("event_id", event.ID, "type", event.Type, "source_id", event.SourceID)

	loaded := map[string]*models.Workflow{}
	matches := make([]Match, 0, len(entries))

	for _, entry := range entries {
		if event.OriginWorkflowID != "" && entry.WorkflowID == event.OriginWorkflowID {
			logger.DebugContext(ctx, "Ignoring change written by the workflow itself", "workflow_id", entry.WorkflowID)

			continue
		}

		binding := models.Trigger{Type: event.Type, Operations: entry.Operations}
		if !binding.Accepts(event.Operation) {
			logger.DebugContext(ctx, "Operation not listened", "workflow_id", entry.WorkflowID, "operation", event.Operation)

			continue
		}

		workflow, seen := loaded[entry.WorkflowID]
		if !seen {
			wf, err := m.workflows.GetByID(ctx, entry.WorkflowID)
			if err != nil {
				if persistence.IsWorkflowNotFound(err) {
					logger.WarnContext(ctx, "Indexed workflow no longer exists", "workflow_id", entry.WorkflowID)
					m.index.Deactivate(entry.WorkflowID)

					continue
				}

				return nil, err
			}

			workflow = wf
			loaded[entry.WorkflowID] = wf
		}

		if !workflow.IsActive {
			continue
		}

		matches = append(matches, Match{
			WorkflowID:    workflow.ID,
			TriggerStepID: entry.TriggerStepID,
			Snapshot:      workflow.Clone(),
		})
	}

	logger.InfoContext(ctx, "Event matched", "matches", len(matches))

	return matches, nil
}
