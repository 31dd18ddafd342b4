package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// A nil bus drops the event.
// Usage: bus.Publish(StatsEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case EncoderSelectedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineStateEvent:
		event.Publish(b.dispatcher, e)
	case StatsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function; unknown handler types get a no-op.
// Usage: unsub := bus.Subscribe(func(e StatsEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(EncoderSelectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StatsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
