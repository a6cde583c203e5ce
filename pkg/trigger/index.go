// Package trigger keeps the lookup table from event sources to the
// workflows they fire and matches inbound events against it.
package trigger

import (
	"slices"
	"sync"

	"github.com/dukex/flowbase/pkg/models"
)

type key struct {
	Type     models.TriggerType
	SourceID string
}

// Entry is one armed trigger of an active workflow.
type Entry struct {
	WorkflowID    string
	TriggerStepID string
	Operations    []models.Operation
}

// Index maps (trigger type, source id) to the entries listening on it.
// Mutations take the write lock; matching only reads.
type Index struct {
	mu      sync.RWMutex
	entries map[key][]Entry
}

func NewIndex() *Index {
	return &Index{entries: map[key][]Entry{}}
}

// Rebuild replaces the index with the triggers of the given workflows.
// Inactive workflows are ignored.
func (i *Index) Rebuild(workflows []*models.Workflow) {
	entries := map[key][]Entry{}

	for _, wf := range workflows {
		if wf.IsActive {
			addWorkflow(entries, wf)
		}
	}

	i.mu.Lock()
	i.entries = entries
	i.mu.Unlock()
}

// Activate arms the triggers of workflow, replacing any previous entries.
func (i *Index) Activate(workflow *models.Workflow) {
	i.mu.Lock()
	defer i.mu.Unlock()

	removeWorkflow(i.entries, workflow.ID)
	addWorkflow(i.entries, workflow)
}

// Deactivate disarms every trigger of the workflow. In-flight runs are not
// affected.
func (i *Index) Deactivate(workflowID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	removeWorkflow(i.entries, workflowID)
}

// Lookup returns a copy of the entries for a source and whether the source
// is known at all.
func (i *Index) Lookup(triggerType models.TriggerType, sourceID string) ([]Entry, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	entries, ok := i.entries[key{Type: triggerType, SourceID: sourceID}]

	return slices.Clone(entries), ok
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := 0
	for _, entries := range i.entries {
		n += len(entries)
	}

	return n
}

func addWorkflow(entries map[key][]Entry, workflow *models.Workflow) {
	for _, t := range workflow.Triggers {
		k := key{Type: t.Type, SourceID: t.SourceID}
		entries[k] = append(entries[k], Entry{
			WorkflowID:    workflow.ID,
			TriggerStepID: t.StepID,
			Operations:    slices.Clone(t.Operations),
		})
	}
}

func removeWorkflow(entries map[key][]Entry, workflowID string) {
	for k, list := range entries {
		list = slices.DeleteFunc(list, func(e Entry) bool { return e.WorkflowID == workflowID })
		if len(list) == 0 {
			delete(entries, k)

			continue
		}

		entries[k] = list
	}
}
