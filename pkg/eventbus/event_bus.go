// Package eventbus carries collaboration events between the coordinator and connected sessions.
package eventbus

import (
	"context"

	"github.com/dukex/regcycle/pkg/events"
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

// Nop discards every event. It stands in where no bus is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error {
	return nil
}
