package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowbase/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("typed errors unwrap to sentinels", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "wf-123", persistence.ErrWorkflowNotFound)
		runErr := persistence.NewRunError("GetByID", "run-1", persistence.ErrRunNotFound)
		recordErr := &persistence.RecordError{Op: "Update", TableID: "7", RecordID: "r1", Err: persistence.ErrRecordNotFound}

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsRunNotFound(fmt.Errorf("resume: %w", runErr)))
		assert.True(t, persistence.IsRecordNotFound(recordErr))
		assert.False(t, persistence.IsRunNotFound(workflowErr))
		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
	})

	t.Run("messages carry context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Save", "wf-123", persistence.ErrInvalidID)

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "wf-123")
		assert.Contains(t, err.Error(), "invalid identifier")
	})
}
