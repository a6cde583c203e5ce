// Package notification publishes a user-facing notification on the event bus.
package notification

import (
	"context"

	"github.com/dukex/flowbase/pkg/actions"
	"github.com/dukex/flowbase/pkg/eventbus"
	"github.com/dukex/flowbase/pkg/events"
	"github.com/dukex/flowbase/pkg/models"
	"github.com/dukex/flowbase/pkg/protocol"
)

const (
	Type = "notification"

	defaultChannel = "in_app"
)

type Config struct {
	Channel string `json:"channel"`
	Title   string `json:"title"   validate:"required"`
	Message string `json:"message"`
}

type ActionFactory struct {
	publisher eventbus.EventPublisher
}

func NewActionFactory(publisher eventbus.EventPublisher) *ActionFactory {
	if publisher == nil {
		publisher = eventbus.NopPublisher{}
	}

	return &ActionFactory{publisher: publisher}
}

func (f *ActionFactory) ID() string     { return Type }
func (f *ActionFactory) Name() string   { return "Notification" }
func (f *ActionFactory) External() bool { return true }

func (f *ActionFactory) Description() string {
	return "Publishes a notification.sent event that notification consumers deliver to users."
}

func (f *ActionFactory) Schema() *models.JSONSchema {
	return models.ObjectSchema(f.Name(), f.Description(), map[string]*models.Property{
		"channel": {Type: "string", Description: "Delivery channel", Default: defaultChannel},
		"title":   models.StringProperty("Notification title"),
		"message": models.StringProperty("Notification text"),
	}, "title")
}

func (f *ActionFactory) ValidateConfig(config map[string]any) error {
	var cfg Config

	return actions.Decode(config, &cfg)
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	var cfg Config
	if err := actions.Decode(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Channel == "" {
		cfg.Channel = defaultChannel
	}

	return &Action{publisher: f.publisher, config: cfg}, nil
}

type Action struct {
	publisher eventbus.EventPublisher
	config    Config
}

func (a *Action) Execute(ctx context.Context, input protocol.Input) (*protocol.Result, error) {
	event := events.NotificationSent{
		BaseEvent: events.NewBaseEvent(events.NotificationSentEvent, input.WorkflowID),
		RunID:     input.RunID,
		StepID:    input.StepID,
		Channel:   a.config.Channel,
		Title:     a.config.Title,
		Message:   a.config.Message,
	}

	if err := a.publisher.Publish(ctx, input.RunID, event); err != nil {
		return nil, err
	}

	return &protocol.Result{
		Output: map[string]any{
			"notification_id": event.ID,
			"channel":         a.config.Channel,
			"title":           a.config.Title,
			"message":         a.config.Message,
		},
	}, nil
}
