package capture

import "github.com/smazurov/returnfeed/internal/frame"

// StatusKind identifies a worker status report.
type StatusKind string

// Status kinds.
const (
	StatusConnected    StatusKind = "connected"
	StatusDisconnected StatusKind = "disconnected"
	StatusFrameReady   StatusKind = "frame_ready"
	StatusError        StatusKind = "error"
)

// Status is a typed report from a worker. Only the fields relevant to Kind
// are set. It is JSON-encoded when a worker runs in a child process.
type Status struct {
	Kind      StatusKind         `json:"kind"`
	Source    frame.SourceHandle `json:"source"`
	SessionID string             `json:"session_id,omitempty"`
	Reason    string             `json:"reason,omitempty"`
	Seq       uint64             `json:"seq,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// StatusSink receives worker status reports. Implementations must not block.
type StatusSink interface {
	Report(Status)
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(Status)

// Report calls f(s).
func (f StatusSinkFunc) Report(s Status) { f(s) }

type discardSink struct{}

func (discardSink) Report(Status) {}
