package notification_test

import (
	"errors"
	"testing"

	"github.com/dukex/flowbase/pkg/actions/notification"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/mocks"
	"github.com/dukex/flowbase/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNotification_Execute(t *testing.T) {
	t.Parallel()

	publisher := &mocks.RecordingPublisher{}
	factory := notification.NewActionFactory(publisher)

	action, err := factory.Create(map[string]any{"title": "New lead", "message": "A signed up"})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), protocol.Input{RunID: "run-1", WorkflowID: "wf-1", StepID: "step2"})
	require.NoError(t, err)

	published := publisher.Events()
	require.Len(t, published, 1)

	sent, ok := published[0].(events.NotificationSent)
	require.True(t, ok)
	assert.Equal(t, "run-1", sent.RunID)
	assert.Equal(t, "step2", sent.StepID)
	assert.Equal(t, "wf-1", sent.WorkflowID)
	assert.Equal(t, "in_app", sent.Channel)

	output := result.Output.(map[string]any)
	assert.Equal(t, sent.ID, output["notification_id"])
	assert.Equal(t, "New lead", output["title"])
}

func TestNotification_PublishError(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "run-1", mock.AnythingOfType("events.NotificationSent")).Return(errors.New("broker down"))

	action, err := notification.NewActionFactory(bus).Create(map[string]any{"title": "x", "channel": "email"})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), protocol.Input{RunID: "run-1"})
	require.EqualError(t, err, "broker down")
	bus.AssertExpectations(t)
}

func TestNotification_ValidateConfig(t *testing.T) {
	t.Parallel()

	factory := notification.NewActionFactory(nil)

	assert.NoError(t, factory.ValidateConfig(map[string]any{"title": "hi"}))
	assert.Error(t, factory.ValidateConfig(map[string]any{"message": "no title"}))
	assert.True(t, factory.External())
}
