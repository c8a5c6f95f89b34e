// Package throughput measures the presentation frame rate and reports it.
package throughput

import (
	"sync"
	"time"
)

// DefaultWindow is the span CurrentFPS counts frames over.
const DefaultWindow = time.Second

// Instrument counts frames shown within a rolling window. It is read-only
// with respect to pacing: marking a frame never changes what is shown.
type Instrument struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	marks []time.Time
	head  int
	total uint64
}

// New creates an instrument over window. Zero selects DefaultWindow.
func New(window time.Duration) *Instrument {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Instrument{window: window, now: time.Now}
}

// WithClock replaces the time source used by CurrentFPS.
func (i *Instrument) WithClock(now func() time.Time) *Instrument {
	i.now = now
	return i
}

// Mark records a frame shown at t.
func (i *Instrument) Mark(t time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.marks = append(i.marks, t)
	i.total++
	i.prune(t)
}

// CurrentFPS returns frames per second over the last window.
func (i *Instrument) CurrentFPS() float64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prune(i.now())
	return float64(len(i.marks)-i.head) / i.window.Seconds()
}

// Total returns every frame marked since creation.
func (i *Instrument) Total() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.total
}

// Reset drops the window but keeps the total.
func (i *Instrument) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.marks = i.marks[:0]
	i.head = 0
}

// prune drops marks at or before now-window. Caller holds mu.
func (i *Instrument) prune(now time.Time) {
	cutoff := now.Add(-i.window)
	for i.head < len(i.marks) && !i.marks[i.head].After(cutoff) {
		i.head++
	}
	if i.head > 0 && i.head >= len(i.marks)/2 {
		n := copy(i.marks, i.marks[i.head:])
		i.marks = i.marks[:n]
		i.head = 0
	}
}
