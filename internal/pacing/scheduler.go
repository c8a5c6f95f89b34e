package pacing

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/throughput"
)

const (
	// DefaultMaxRepeats bounds gap filling to about half a second at 60 fps.
	DefaultMaxRepeats = 30

	unlockedStall = 100 * time.Millisecond
)

// Display receives frames in presentation order. Frames are read-only.
type Display interface {
	Show(f *frame.Normalized)
}

// ConnectionSink is told when the feed gains or loses its source.
type ConnectionSink interface {
	SetConnected(connected bool)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(f *frame.Normalized)

// Show calls fn(f).
func (fn DisplayFunc) Show(f *frame.Normalized) { fn(f) }

// PresentationStats counts what the scheduler has shown.
type PresentationStats struct {
	Shown    uint64 `json:"shown" doc:"Fresh frames handed to the display"`
	Repeated uint64 `json:"repeated" doc:"Previous frames re-shown to cover gaps"`
}

// Scheduler pops frames from the channel and hands them to the display at
// the estimated source cadence. During a gap it re-shows the last frame.
type Scheduler struct {
	ch         *framechan.Channel
	est        *Estimator
	display    Display
	instrument *throughput.Instrument
	onLock     func(CadenceEstimate)
	logger     *slog.Logger

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)
	maxRepeats int

	// owned by the Run goroutine
	last    time.Time
	prev    *frame.Normalized
	repeats int
	locked  bool

	resetReq atomic.Bool
	shown    atomic.Uint64
	repeated atomic.Uint64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the time source and sleep used for pacing.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
		s.sleep = sleep
	}
}

// WithMaxRepeats sets how many times a frame may be re-shown in a row.
// Zero disables gap filling.
func WithMaxRepeats(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxRepeats = max(n, 0) }
}

// WithInstrument marks every fresh frame shown.
func WithInstrument(inst *throughput.Instrument) SchedulerOption {
	return func(s *Scheduler) { s.instrument = inst }
}

// WithLockHandler is called once each time the cadence locks.
func WithLockHandler(fn func(CadenceEstimate)) SchedulerOption {
	return func(s *Scheduler) { s.onLock = fn }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler reading from ch.
func NewScheduler(ch *framechan.Channel, est *Estimator, display Display, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		ch:         ch,
		est:        est,
		display:    display,
		now:        time.Now,
		sleep:      sleepContext,
		maxRepeats: DefaultMaxRepeats,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.est == nil {
		s.est = NewEstimator(DefaultWindow)
	}
	if s.logger == nil {
		s.logger = logging.GetLogger("pacing")
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Estimator returns the rate estimator driving the scheduler.
func (s *Scheduler) Estimator() *Estimator { return s.est }

// Stats returns the shown and repeated counters.
func (s *Scheduler) Stats() PresentationStats {
	return PresentationStats{Shown: s.shown.Load(), Repeated: s.repeated.Load()}
}

// Reset forgets the cadence and the previous frame before the next tick.
// Safe from any goroutine; the pipeline calls it on disconnect.
func (s *Scheduler) Reset() {
	s.resetReq.Store(true)
}

// Run ticks until ctx is done or the channel is closed and drained.
func (s *Scheduler) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if !s.Tick(ctx) {
			return nil
		}
	}
	return nil
}

// StallTimeout is how long Tick waits for a frame before covering the gap.
// Once locked the wait ends half an interval past the next cadence slot.
func (s *Scheduler) StallTimeout() time.Duration {
	est := s.est.Estimate()
	if !est.Locked {
		return unlockedStall
	}
	grace := est.Interval + est.Interval/2
	if s.last.IsZero() {
		return grace
	}
	return s.last.Add(grace).Sub(s.now())
}

// Tick presents at most one frame. It returns false once the channel is
// closed and empty.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.resetReq.Swap(false) {
		s.reset()
	}

	f, ok := s.ch.Pop(s.StallTimeout())
	if !ok {
		if s.ch.Closed() && s.ch.Len() == 0 {
			return false
		}
		s.fillGap()
		return true
	}

	s.est.Observe(f.Timestamp)
	est := s.est.Estimate()
	if est.Locked && !s.locked {
		s.locked = true
		metrics.SetCadenceInterval(est.Interval)
		s.logger.Info("Cadence locked", "fps", est.FPS(), "interval", est.Interval, "samples", est.Samples)
		if s.onLock != nil {
			s.onLock(est)
		}
	}

	now := s.now()
	if !est.Locked || s.last.IsZero() {
		s.present(f, now)
		s.last = now
		return true
	}

	ideal := s.last.Add(est.Interval)
	if delay := ideal.Sub(now); delay > 0 {
		s.sleep(ctx, delay)
	}
	s.present(f, s.now())
	if ideal.After(now) {
		s.last = ideal
	} else {
		s.last = now
	}
	return true
}

func (s *Scheduler) present(f *frame.Normalized, at time.Time) {
	s.display.Show(f)
	s.prev = f
	s.repeats = 0
	s.shown.Add(1)
	if s.instrument != nil {
		s.instrument.Mark(at)
	}
}

// fillGap re-shows the previous frame, up to maxRepeats in a row. Past
// that the display keeps whatever it last drew. When locked, the missed
// slot still counts as presented so repeats follow the source cadence.
func (s *Scheduler) fillGap() {
	if est := s.est.Estimate(); est.Locked && !s.last.IsZero() {
		now := s.now()
		slot := s.last.Add(est.Interval)
		if now.Sub(slot) > est.Interval {
			slot = now
		}
		s.last = slot
	}
	if s.prev == nil || s.repeats >= s.maxRepeats {
		return
	}
	s.repeats++
	s.repeated.Add(1)
	metrics.IncPresentationRepeats()
	s.display.Show(s.prev.AsRepeat())
}

func (s *Scheduler) reset() {
	s.est.Reset()
	s.last = time.Time{}
	s.prev = nil
	s.repeats = 0
	s.locked = false
	s.logger.Debug("Scheduler reset")
}
