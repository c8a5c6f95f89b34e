package display

import (
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/pacing"
)

// Publisher forwards frames to the next display and announces each one on
// the event bus. Events carry the sequence number and size, never pixels.
type Publisher struct {
	next     pacing.Display
	bus      events.Publisher
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewPublisher wraps next. With a positive interval at most one event is
// published per interval; the frames themselves are always forwarded.
func NewPublisher(next pacing.Display, bus events.Publisher, interval time.Duration) *Publisher {
	return &Publisher{next: next, bus: bus, interval: interval}
}

// Show forwards f and publishes a FrameReadyEvent.
func (p *Publisher) Show(f *frame.Normalized) {
	if p.next != nil {
		p.next.Show(f)
	}
	if p.bus == nil || !p.due(time.Now()) {
		return
	}
	p.bus.Publish(events.FrameReadyEvent{
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		Repeated:  f.Repeated,
		Timestamp: events.Timestamp(f.Timestamp),
	})
}

// SetConnected forwards to the wrapped display when it tracks connection state.
func (p *Publisher) SetConnected(up bool) {
	if c, ok := p.next.(pacing.ConnectionSink); ok {
		c.SetConnected(up)
	}
}

func (p *Publisher) due(now time.Time) bool {
	if p.interval <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return false
	}
	p.last = now
	return true
}
