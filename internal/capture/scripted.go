package capture

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
)

// ScriptedReceiver replays a fixed list of captures. Once the script runs
// out it reports the source gone.
type ScriptedReceiver struct {
	mu       sync.Mutex
	script   []Capture
	next     int
	openErr  error
	opened   int
	closed   int
	timeouts []time.Duration
}

// NewScriptedReceiver creates a receiver that returns script in order.
func NewScriptedReceiver(script ...Capture) *ScriptedReceiver {
	return &ScriptedReceiver{script: script}
}

// FailOpen makes the next Open calls return err.
func (r *ScriptedReceiver) FailOpen(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}

func (r *ScriptedReceiver) Open(context.Context, frame.SourceHandle, frame.Quality) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return r.openErr
	}
	r.opened++
	return nil
}

func (r *ScriptedReceiver) Capture(timeout time.Duration) Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts = append(r.timeouts, timeout)
	if r.next >= len(r.script) {
		return Failed(frame.ErrSourceGone)
	}
	c := r.script[r.next]
	r.next++
	return c
}

func (r *ScriptedReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// Closed returns how many times Close was called.
func (r *ScriptedReceiver) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Timeouts returns the timeout passed to each Capture call.
func (r *ScriptedReceiver) Timeouts() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timeouts...)
}
