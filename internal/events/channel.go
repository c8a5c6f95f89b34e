package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback subscriptions to a
// channel for select-loop consumers such as SSE handlers. Sends never
// block; events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribePipeline forwards every pipeline status event to ch and returns
// a single function that removes all subscriptions.
func SubscribePipeline(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[SourceConnectedEvent](bus, ch),
		SubscribeToChannel[SourceDisconnectedEvent](bus, ch),
		SubscribeToChannel[PipelineErrorEvent](bus, ch),
		SubscribeToChannel[FPSUpdateEvent](bus, ch),
		SubscribeToChannel[CadenceLockedEvent](bus, ch),
		SubscribeToChannel[SourcesChangedEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
