// Package events defines the messages exchanged over the event bus: inbound
// form and table events, run lifecycle notifications and user notifications.
package events

import (
	"time"

	"github.com/dukex/flowbase/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "flowbase.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound events.
	FormSubmittedEvent   EventType = "form.submitted"
	DatabaseChangedEvent EventType = "database.changed"

	// Run lifecycle events.
	RunStartedEvent   EventType = "run.started"
	RunSuspendedEvent EventType = "run.suspended"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"

	NotificationSentEvent EventType = "notification.sent"

	// Definition lifecycle events. Every process holding a trigger index
	// listens to them.
	WorkflowActivatedEvent   EventType = "workflow.activated"
	WorkflowDeactivatedEvent EventType = "workflow.deactivated"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// Inbound is implemented by events that can fire workflow triggers.
type Inbound interface {
	ToEvent() models.Event
}

type FormSubmitted struct {
	BaseEvent

	FormID  string         `json:"form_id"`
	Payload map[string]any `json:"payload"`
}

func (e FormSubmitted) GetType() EventType {
	return FormSubmittedEvent
}

func (e FormSubmitted) ToEvent() models.Event {
	return models.Event{
		ID:         e.ID,
		Type:       models.TriggerTypeFormSubmission,
		SourceID:   e.FormID,
		Payload:    e.Payload,
		ReceivedAt: e.Timestamp,
	}
}

// DatabaseChanged reports a row write. BaseEvent.WorkflowID is set when
// an update-database step wrote the row.
type DatabaseChanged struct {
	BaseEvent

	TableID   string           `json:"table_id"`
	Operation models.Operation `json:"operation"`
	RecordID  string           `json:"record_id,omitempty"`
	Payload   map[string]any   `json:"payload"`
}

func (e DatabaseChanged) GetType() EventType {
	return DatabaseChangedEvent
}

// ToEvent exposes the record id to the payload when it is not already there.
func (e DatabaseChanged) ToEvent() models.Event {
	payload := models.CloneMap(e.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	if _, ok := payload["record_id"]; !ok && e.RecordID != "" {
		payload["record_id"] = e.RecordID
	}

	return models.Event{
		ID:               e.ID,
		Type:             models.TriggerTypeDatabaseChange,
		SourceID:         e.TableID,
		Operation:        e.Operation,
		Payload:          payload,
		ReceivedAt:       e.Timestamp,
		OriginWorkflowID: e.WorkflowID,
	}
}

type RunStarted struct {
	BaseEvent

	RunID         string `json:"run_id"`
	TriggerStepID string `json:"trigger_step_id"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunSuspended struct {
	BaseEvent

	RunID string        `json:"run_id"`
	Waits []models.Wait `json:"waits"`
}

func (e RunSuspended) GetType() EventType {
	return RunSuspendedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	Duration time.Duration `json:"duration"`
	// FailedSteps lists steps that failed without failing the run.
	FailedSteps []string `json:"failed_steps,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID string `json:"run_id"`
	Error string `json:"error"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type NotificationSent struct {
	BaseEvent

	RunID   string `json:"run_id"`
	StepID  string `json:"step_id"`
	Channel string `json:"channel"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (e NotificationSent) GetType() EventType {
	return NotificationSentEvent
}

// WorkflowActivated is published when a workflow is armed or an active
// workflow changes its graph or triggers.
type WorkflowActivated struct {
	BaseEvent

	Version int `json:"version"`
}

func (e WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

func NewWorkflowActivated(workflowID string, version int) WorkflowActivated {
	return WorkflowActivated{
		BaseEvent: NewBaseEvent(WorkflowActivatedEvent, workflowID),
		Version:   version,
	}
}

type WorkflowDeactivated struct {
	BaseEvent
}

func (e WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}

func NewWorkflowDeactivated(workflowID string) WorkflowDeactivated {
	return WorkflowDeactivated{BaseEvent: NewBaseEvent(WorkflowDeactivatedEvent, workflowID)}
}
