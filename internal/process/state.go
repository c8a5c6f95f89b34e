package process

import "time"

// State is where a child is in its lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	// StateStopping means a signal was sent and Wait has not returned.
	StateStopping State = "stopping"
	// StateError covers a failed start and a non-zero exit nobody asked for.
	StateError State = "error"
)

// Info is a snapshot of one child.
type Info struct {
	ID        string
	State     State
	PID       int
	StartedAt time.Time
	ExitCode  int
	LastError error
}

// Uptime is how long the child has been running, zero if it never started.
func (i Info) Uptime() time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return time.Since(i.StartedAt)
}
