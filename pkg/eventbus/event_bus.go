// Package eventbus provides the publish/subscribe layer that carries inbound
// events into the engine and lifecycle events out of it.
package eventbus

import (
	"context"

	"github.com/dukex/flowbase/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// NopPublisher drops every event. It stands in when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error {
	return nil
}
