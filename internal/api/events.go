package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/pipeline"
)

// EventsInput selects optional event classes.
type EventsInput struct {
	Frames bool `query:"frames" doc:"Also stream a frame-ready event for every presented frame"`
}

// registerSSERoutes registers the pipeline event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Connection changes, errors, cadence lock and presentation rate. The current status is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"status":              pipeline.Status{},
		"source-connected":    events.SourceConnectedEvent{},
		"source-disconnected": events.SourceDisconnectedEvent{},
		"pipeline-error":      events.PipelineErrorEvent{},
		"fps-update":          events.FPSUpdateEvent{},
		"cadence-locked":      events.CadenceLockedEvent{},
		"sources-changed":     events.SourcesChangedEvent{},
		"frame-ready":         events.FrameReadyEvent{},
	}, func(ctx context.Context, input *EventsInput, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribe := events.SubscribePipeline(s.eventBus, eventCh)
		defer unsubscribe()
		if input.Frames {
			unsubFrames := events.SubscribeToChannel[events.FrameReadyEvent](s.eventBus, eventCh)
			defer unsubFrames()
		}

		if s.pipeline != nil {
			if err := send.Data(s.pipeline.Status()); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
