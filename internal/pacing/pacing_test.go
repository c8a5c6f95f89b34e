package pacing

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/throughput"
)

const ntscInterval = time.Second * 1001 / 60000

func arrivals(start time.Time, n int, interval time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * interval)
	}
	return out
}

func TestEstimatorLocksAt5994(t *testing.T) {
	est := NewEstimator(DefaultWindow)
	stamps := arrivals(time.Unix(0, 0), DefaultWindow, ntscInterval)

	for i, ts := range stamps {
		est.Observe(ts)
		if locked := est.Estimate().Locked; locked != (i == len(stamps)-1) {
			t.Fatalf("after %d arrivals locked = %v", i+1, locked)
		}
	}

	got := est.Estimate()
	if got.Samples != DefaultWindow {
		t.Errorf("samples = %d, want %d", got.Samples, DefaultWindow)
	}
	diff := math.Abs(float64(got.Interval-ntscInterval)) / float64(ntscInterval)
	if diff > 0.01 {
		t.Errorf("interval = %v, want %v within 1%%", got.Interval, ntscInterval)
	}
	if fps := est.FPS(); math.Abs(fps-59.94) > 0.6 {
		t.Errorf("fps = %v, want about 59.94", fps)
	}
}

func TestEstimatorTracksAfterLock(t *testing.T) {
	est := NewEstimator(4)
	for _, ts := range arrivals(time.Unix(0, 0), 4, 40*time.Millisecond) {
		est.Observe(ts)
	}
	for _, ts := range arrivals(time.Unix(0, 0).Add(200*time.Millisecond), 4, 20*time.Millisecond) {
		est.Observe(ts)
	}
	if got := est.Estimate().Interval; got != 20*time.Millisecond {
		t.Errorf("interval after rate change = %v, want 20ms", got)
	}
}

func TestEstimatorIgnoresBadTimestamps(t *testing.T) {
	est := NewEstimator(3)
	base := time.Unix(10, 0)
	est.Observe(base)
	est.Observe(time.Time{})
	est.Observe(base)
	est.Observe(base.Add(-time.Second))
	if got := est.Estimate().Samples; got != 1 {
		t.Errorf("samples = %d, want 1", got)
	}

	est.Reset()
	if got := est.Estimate(); got.Samples != 0 || got.Locked {
		t.Errorf("after Reset: %+v", got)
	}
}

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
}

type recordingDisplay struct {
	frames []*frame.Normalized
}

func (d *recordingDisplay) Show(f *frame.Normalized) { d.frames = append(d.frames, f) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerPacesAfterLock(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	ch := framechan.New(3)
	display := &recordingDisplay{}
	inst := throughput.New(time.Second)
	locks := 0

	s := NewScheduler(ch, NewEstimator(DefaultWindow), display,
		WithClock(clock.now, clock.sleep),
		WithInstrument(inst),
		WithLockHandler(func(CadenceEstimate) { locks++ }),
		WithSchedulerLogger(testLogger()),
	)

	stamps := arrivals(time.Unix(0, 0), 40, ntscInterval)
	for i, ts := range stamps {
		ch.TryPush(&frame.Normalized{Seq: uint64(i + 1), Timestamp: ts})
		if !s.Tick(context.Background()) {
			t.Fatal("Tick returned false on an open channel")
		}
	}

	if len(display.frames) != 40 {
		t.Fatalf("shown %d frames, want 40", len(display.frames))
	}
	for i, f := range display.frames {
		if f.Seq != uint64(i+1) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
	}
	if locks != 1 {
		t.Errorf("lock handler called %d times, want 1", locks)
	}
	// The 29 warm-up frames go out immediately; from the locking frame on
	// each waits one interval.
	if len(clock.slept) != 11 {
		t.Fatalf("slept %d times, want 11", len(clock.slept))
	}
	for _, d := range clock.slept {
		if math.Abs(float64(d-ntscInterval))/float64(ntscInterval) > 0.01 {
			t.Errorf("sleep %v, want about %v", d, ntscInterval)
		}
	}
	if inst.Total() != 40 {
		t.Errorf("instrument total = %d, want 40", inst.Total())
	}
	if st := s.Stats(); st.Shown != 40 || st.Repeated != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSchedulerLateFrameNotDelayed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	ch := framechan.New(3)
	display := &recordingDisplay{}
	est := NewEstimator(2)
	s := NewScheduler(ch, est, display, WithClock(clock.now, clock.sleep), WithSchedulerLogger(testLogger()))

	for i, ts := range arrivals(time.Unix(0, 0), 2, 20*time.Millisecond) {
		ch.TryPush(&frame.Normalized{Seq: uint64(i), Timestamp: ts})
		s.Tick(context.Background())
	}

	// The display fell behind by more than an interval.
	clock.slept = nil
	clock.t = clock.t.Add(50 * time.Millisecond)
	ch.TryPush(&frame.Normalized{Seq: 3, Timestamp: time.Unix(0, 0).Add(40 * time.Millisecond)})
	s.Tick(context.Background())

	if len(clock.slept) != 0 {
		t.Errorf("late frame should be shown without sleeping, slept %v", clock.slept)
	}
	if s.last != clock.t {
		t.Errorf("last presentation = %v, want now %v", s.last, clock.t)
	}
}

func TestSchedulerRepeatsBounded(t *testing.T) {
	ch := framechan.New(3)
	display := &recordingDisplay{}
	s := NewScheduler(ch, NewEstimator(DefaultWindow), display, WithMaxRepeats(2), WithSchedulerLogger(testLogger()))

	ch.TryPush(&frame.Normalized{Seq: 7, Timestamp: time.Now()})
	for range 4 {
		s.Tick(context.Background())
	}

	if len(display.frames) != 3 {
		t.Fatalf("display calls = %d, want 1 fresh + 2 repeats", len(display.frames))
	}
	for _, f := range display.frames[1:] {
		if !f.Repeated || f.Seq != 7 {
			t.Errorf("gap frame = %+v, want repeat of seq 7", f)
		}
	}
	if display.frames[0].Repeated {
		t.Error("original frame must not be marked repeated")
	}
	if s.Stats().Repeated != 2 {
		t.Errorf("repeated = %d, want 2", s.Stats().Repeated)
	}
}

func TestSchedulerResetDropsPrevious(t *testing.T) {
	ch := framechan.New(3)
	display := &recordingDisplay{}
	s := NewScheduler(ch, NewEstimator(DefaultWindow), display, WithSchedulerLogger(testLogger()))

	ch.TryPush(&frame.Normalized{Seq: 1, Timestamp: time.Now()})
	s.Tick(context.Background())
	s.Reset()
	s.Tick(context.Background())

	if len(display.frames) != 1 {
		t.Errorf("no repeat expected after Reset, display calls = %d", len(display.frames))
	}
	if s.Estimator().Estimate().Samples != 0 {
		t.Error("Reset should clear the estimator")
	}
}

func TestSchedulerRunStopsOnClose(t *testing.T) {
	ch := framechan.New(3)
	display := &recordingDisplay{}
	s := NewScheduler(ch, nil, display, WithSchedulerLogger(testLogger()))

	ch.TryPush(&frame.Normalized{Seq: 1, Timestamp: time.Now()})
	ch.TryPush(&frame.Normalized{Seq: 2, Timestamp: time.Now().Add(time.Millisecond)})
	ch.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	if len(display.frames) != 2 {
		t.Errorf("shown %d frames, want the 2 queued before close", len(display.frames))
	}
}

func TestStallTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	s := NewScheduler(framechan.New(1), NewEstimator(2), DisplayFunc(func(*frame.Normalized) {}),
		WithClock(clock.now, clock.sleep), WithSchedulerLogger(testLogger()))
	if got := s.StallTimeout(); got != 100*time.Millisecond {
		t.Errorf("unlocked stall = %v", got)
	}

	s.Estimator().Observe(time.Unix(0, 0))
	s.Estimator().Observe(time.Unix(0, 0).Add(40 * time.Millisecond))
	if got := s.StallTimeout(); got != 60*time.Millisecond {
		t.Errorf("locked stall before any presentation = %v, want 60ms", got)
	}

	s.last = clock.t.Add(-10 * time.Millisecond)
	if got := s.StallTimeout(); got != 50*time.Millisecond {
		t.Errorf("locked stall = %v, want 50ms to the slot plus half an interval", got)
	}
}

func TestSchedulerRepeatsAtCadenceDuringGap(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	ch := framechan.New(3)
	display := &recordingDisplay{}
	s := NewScheduler(ch, NewEstimator(DefaultWindow), display,
		WithClock(clock.now, clock.sleep),
		WithMaxRepeats(1000),
		WithSchedulerLogger(testLogger()),
	)

	for i, ts := range arrivals(time.Unix(0, 0), DefaultWindow+2, ntscInterval) {
		ch.TryPush(&frame.Normalized{Seq: uint64(i + 1), Timestamp: ts})
		s.Tick(context.Background())
	}
	if !s.Estimator().Estimate().Locked {
		t.Fatal("estimator did not lock")
	}

	// Half a second with no frames. The clock jumps to each stall deadline
	// so Pop returns without blocking.
	gapEnd := clock.t.Add(500 * time.Millisecond)
	ticks := 0
	for clock.t.Before(gapEnd) {
		wait := s.StallTimeout()
		if wait <= 0 || wait > ntscInterval*2 {
			t.Fatalf("stall timeout %v outside one and a half intervals", wait)
		}
		clock.t = clock.t.Add(wait)
		s.Tick(context.Background())
		ticks++
	}

	repeats := int(s.Stats().Repeated)
	if repeats != ticks {
		t.Errorf("repeats = %d, ticks = %d; every missed slot should repeat", repeats, ticks)
	}
	want := int(500 * time.Millisecond / ntscInterval)
	if repeats < want-1 || repeats > want+2 {
		t.Errorf("repeats in a 500ms gap = %d, want about %d", repeats, want)
	}
}
