// Package timing tunes how long the capture loop waits for each frame.
package timing

import (
	"sync"
	"time"
)

// Config holds the adaptive timeout parameters.
type Config struct {
	Base          time.Duration
	Max           time.Duration
	DecayStep     time.Duration
	GrowStep      time.Duration
	MissThreshold int
}

// DefaultConfig returns parameters suited to ~60 fps sources.
func DefaultConfig() Config {
	return Config{
		Base:          25 * time.Millisecond,
		Max:           100 * time.Millisecond,
		DecayStep:     5 * time.Millisecond,
		GrowStep:      10 * time.Millisecond,
		MissThreshold: 3,
	}
}

// State is a snapshot of the controller.
type State struct {
	CurrentTimeout    time.Duration `json:"current_timeout_ns" doc:"Current capture timeout"`
	ConsecutiveMisses int           `json:"consecutive_misses" doc:"Capture calls without data since the last frame"`
}

// Controller grows the capture timeout during gaps and shrinks it back
// toward the base once frames flow again. Only the capture loop mutates it;
// reads are safe from any goroutine.
type Controller struct {
	cfg Config

	mu      sync.RWMutex
	current time.Duration
	misses  int
	peak    int
}

// New creates a controller. Zero fields in cfg take their defaults and Max
// is raised to Base if it is smaller.
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.DecayStep <= 0 {
		cfg.DecayStep = def.DecayStep
	}
	if cfg.GrowStep <= 0 {
		cfg.GrowStep = def.GrowStep
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = def.MissThreshold
	}
	return &Controller{cfg: cfg, current: cfg.Base}
}

// OnHit records a captured frame.
func (c *Controller) OnHit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.misses = 0
	if c.current > c.cfg.Base {
		c.current = max(c.current-c.cfg.DecayStep, c.cfg.Base)
	}
}

// OnMiss records a capture call that returned no data.
func (c *Controller) OnMiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.misses++
	c.peak = max(c.peak, c.misses)
	if c.misses > c.cfg.MissThreshold {
		c.current = min(c.current+c.cfg.GrowStep, c.cfg.Max)
	}
}

// Timeout returns the wait to use for the next capture call.
func (c *Controller) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// TimeoutMs returns Timeout in whole milliseconds.
func (c *Controller) TimeoutMs() int {
	return int(c.Timeout() / time.Millisecond)
}

// State returns the current timeout and miss count.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{CurrentTimeout: c.current, ConsecutiveMisses: c.misses}
}

// PeakMisses returns the longest miss run seen since the last ResetPeak.
func (c *Controller) PeakMisses() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peak
}

// ResetPeak clears the recorded peak.
func (c *Controller) ResetPeak() {
	c.mu.Lock()
	c.peak = 0
	c.mu.Unlock()
}

// Reset returns the controller to its initial state.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.current = c.cfg.Base
	c.misses = 0
	c.peak = 0
	c.mu.Unlock()
}

// Config returns the effective parameters.
func (c *Controller) Config() Config {
	return c.cfg
}
