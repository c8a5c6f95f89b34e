// Package pacing detects a source's frame cadence and presents frames at
// that cadence.
package pacing

import (
	"sync"
	"time"
)

// DefaultWindow is the number of arrivals needed before the cadence locks.
const DefaultWindow = 30

// CadenceEstimate is the detected inter-frame interval.
type CadenceEstimate struct {
	Interval time.Duration `json:"interval_ns" doc:"Mean inter-frame interval"`
	Samples  int           `json:"samples" doc:"Arrivals in the window"`
	Locked   bool          `json:"locked" doc:"True once the window has filled"`
}

// FPS returns the frame rate for the interval, zero when not locked.
func (c CadenceEstimate) FPS() float64 {
	if !c.Locked || c.Interval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.Interval)
}

// Estimator keeps the last window arrival times and reports their mean
// spacing. It locks once the window fills and keeps tracking afterwards.
type Estimator struct {
	mu     sync.Mutex
	window int
	times  []time.Time
	head   int
	count  int
	locked bool
}

// NewEstimator creates an estimator over window arrivals. Values below 2
// select DefaultWindow.
func NewEstimator(window int) *Estimator {
	if window < 2 {
		window = DefaultWindow
	}
	return &Estimator{
		window: window,
		times:  make([]time.Time, window),
	}
}

// Window returns the number of arrivals the estimate spans.
func (e *Estimator) Window() int { return e.window }

// Observe records a frame arrival. Zero times and times that do not
// advance past the previous arrival are ignored.
func (e *Estimator) Observe(t time.Time) {
	if t.IsZero() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.count > 0 && !t.After(e.newest()) {
		return
	}
	e.times[(e.head+e.count)%e.window] = t
	if e.count < e.window {
		e.count++
	} else {
		e.head = (e.head + 1) % e.window
	}
	if e.count == e.window {
		e.locked = true
	}
}

// Estimate returns the current cadence.
func (e *Estimator) Estimate() CadenceEstimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	est := CadenceEstimate{Samples: e.count, Locked: e.locked}
	if e.count >= 2 {
		oldest := e.times[e.head]
		est.Interval = e.newest().Sub(oldest) / time.Duration(e.count-1)
	}
	return est
}

// FPS returns the locked frame rate, zero before lock.
func (e *Estimator) FPS() float64 {
	return e.Estimate().FPS()
}

// Reset forgets every arrival. Called when the source disconnects.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.times)
	e.head = 0
	e.count = 0
	e.locked = false
}

func (e *Estimator) newest() time.Time {
	return e.times[(e.head+e.count-1)%e.window]
}
