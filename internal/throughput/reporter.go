package throughput

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/metrics"
)

// Reporter publishes the instrument's frame rate on a fixed interval.
type Reporter struct {
	inst     *Instrument
	eventBus events.Publisher
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReporter creates a reporter. Zero interval means one second.
func NewReporter(inst *Instrument, eventBus events.Publisher, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Reporter{
		inst:     inst,
		eventBus: eventBus,
		interval: interval,
	}
}

// Start begins the report loop.
func (r *Reporter) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop ends the report loop and waits for it.
func (r *Reporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reporter) run(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report publishes one FPSUpdateEvent and updates the gauge.
func (r *Reporter) Report() {
	fps := math.Round(r.inst.CurrentFPS()*10) / 10
	metrics.SetPresentationFPS(fps)
	if r.eventBus != nil {
		r.eventBus.Publish(events.FPSUpdateEvent{
			Value:     fps,
			Timestamp: events.Timestamp(time.Now()),
		})
	}
}
