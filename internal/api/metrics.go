package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/returnfeed/internal/events"
)

// registerMetricsRoutes registers the presentation-rate stream used by
// lightweight dashboards that do not scrape /metrics.
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Presentation FPS once per second and the detected source cadence",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"fps-update":     events.FPSUpdateEvent{},
		"cadence-locked": events.CadenceLockedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubFPS := events.SubscribeToChannel[events.FPSUpdateEvent](s.eventBus, eventCh)
		defer unsubFPS()
		unsubCadence := events.SubscribeToChannel[events.CadenceLockedEvent](s.eventBus, eventCh)
		defer unsubCadence()

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
