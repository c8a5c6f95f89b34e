package events

import (
	"time"

	"github.com/kelindar/event"
)

// Publisher is the publishing half of Bus, accepted by components that
// only emit events.
type Publisher interface {
	Publish(ev Event)
}

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
// kelindar/event routes by static type, so each concrete event needs its case.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SourceConnectedEvent:
		event.Publish(b.dispatcher, e)
	case SourceDisconnectedEvent:
		event.Publish(b.dispatcher, e)
	case FrameReadyEvent:
		event.Publish(b.dispatcher, e)
	case PipelineErrorEvent:
		event.Publish(b.dispatcher, e)
	case FPSUpdateEvent:
		event.Publish(b.dispatcher, e)
	case CadenceLockedEvent:
		event.Publish(b.dispatcher, e)
	case SourcesChangedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler's parameter type selects the event; unknown handler types
// get a no-op unsubscribe.
// Usage: unsub := bus.Subscribe(func(e FPSUpdateEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SourceConnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourceDisconnectedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameReadyEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FPSUpdateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CadenceLockedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SourcesChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Timestamp formats t the way every event carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
