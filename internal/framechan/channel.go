// Package framechan provides the bounded latest-wins queue that hands
// normalized frames from the capture side to the presentation side.
package framechan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
)

const (
	DefaultCapacity = 3
	maxCapacity     = 16
)

// ChannelStats is a snapshot of channel counters.
type ChannelStats struct {
	Pushed   uint64 `json:"pushed" doc:"Frames accepted by TryPush"`
	Popped   uint64 `json:"popped" doc:"Frames handed to the consumer"`
	Evicted  uint64 `json:"evicted" doc:"Frames dropped to make room for newer ones"`
	Capacity int    `json:"capacity" doc:"Maximum pending frames"`
	Pending  int    `json:"pending" doc:"Frames currently queued"`
}

// Channel is a fixed-capacity FIFO. When full, a push evicts the oldest
// pending frame so the consumer always sees the most recent ones.
//
// Safe for one producer and one consumer without external locking.
type Channel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []*frame.Normalized
	head   int
	count  int
	closed bool

	pushed  atomic.Uint64
	popped  atomic.Uint64
	evicted atomic.Uint64
}

// New creates a channel. Capacities outside [1, 16] are clamped; zero
// selects DefaultCapacity.
func New(capacity int) *Channel {
	switch {
	case capacity <= 0:
		capacity = DefaultCapacity
	case capacity > maxCapacity:
		capacity = maxCapacity
	}
	c := &Channel{buf: make([]*frame.Normalized, capacity)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// TryPush enqueues f without blocking. It reports whether an older frame
// was evicted to make room. Pushes after Close are discarded.
func (c *Channel) TryPush(f *frame.Normalized) (evicted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	capacity := len(c.buf)
	if c.count == capacity {
		c.buf[c.head] = nil
		c.head = (c.head + 1) % capacity
		c.count--
		c.evicted.Add(1)
		evicted = true
	}

	c.buf[(c.head+c.count)%capacity] = f
	c.count++
	c.pushed.Add(1)

	c.cond.Signal()
	return evicted
}

// Pop removes the oldest pending frame, waiting up to timeout for one to
// arrive. It returns false on timeout or once the channel is closed and
// drained.
func (c *Channel) Pop(timeout time.Duration) (*frame.Normalized, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 && !c.closed && timeout > 0 {
		expired := false
		timer := time.AfterFunc(timeout, func() {
			c.mu.Lock()
			expired = true
			c.mu.Unlock()
			c.cond.Broadcast()
		})
		for c.count == 0 && !c.closed && !expired {
			c.cond.Wait()
		}
		timer.Stop()
	}

	if c.count == 0 {
		return nil, false
	}

	f := c.buf[c.head]
	c.buf[c.head] = nil
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	c.popped.Add(1)
	return f, true
}

// Close wakes any waiting consumer. Frames already queued can still be popped.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Drain discards all pending frames and returns how many were dropped.
func (c *Channel) Drain() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.count
	for i := range c.buf {
		c.buf[i] = nil
	}
	c.head, c.count = 0, 0
	return n
}

// Len returns the number of pending frames.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the channel capacity.
func (c *Channel) Cap() int {
	return len(c.buf)
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Pushed:   c.pushed.Load(),
		Popped:   c.popped.Load(),
		Evicted:  c.evicted.Load(),
		Capacity: len(c.buf),
		Pending:  c.Len(),
	}
}
