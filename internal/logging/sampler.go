package logging

import (
	"sync"
	"time"
)

// Sampler lets one event through per interval and counts the ones it
// suppresses. Used for per-frame errors that would otherwise flood the log.
type Sampler struct {
	interval   time.Duration
	mu         sync.Mutex
	last       time.Time
	suppressed int
	now        func() time.Time
}

// NewSampler creates a sampler allowing one event per interval.
func NewSampler(interval time.Duration) *Sampler {
	return &Sampler{interval: interval, now: time.Now}
}

// Allow reports whether the caller should log now. When it returns true,
// suppressed is the number of events dropped since the previous allowed one.
func (s *Sampler) Allow() (ok bool, suppressed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		s.suppressed++
		return false, 0
	}
	suppressed = s.suppressed
	s.suppressed = 0
	s.last = now
	return true, suppressed
}
