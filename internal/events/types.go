package events

// Event type constants for kelindar/event.
const (
	TypeSourceConnected uint32 = iota + 1
	TypeSourceDisconnected
	TypeFrameReady
	TypePipelineError
	TypeFPSUpdate
	TypeCadenceLocked
	TypeSourcesChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Error kinds carried by PipelineErrorEvent.
const (
	ErrorKindConnect     = "connect"
	ErrorKindSourceGone  = "source_gone"
	ErrorKindFormat      = "unsupported_format"
	ErrorKindRelease     = "release"
	ErrorKindCapture     = "capture"
	ErrorKindWorkerCrash = "worker_crash"
)

// SourceConnectedEvent is published once a capture worker holds a live connection.
type SourceConnectedEvent struct {
	SessionID string `json:"session_id" example:"5f0c8a9e-8d0a-4a55-9f5e-0d5b2f8e1a11" doc:"Capture session identifier"`
	Name      string `json:"name" example:"STUDIO (Program)" doc:"Source name"`
	Address   string `json:"address" example:"pattern://UYVY?w=1280&h=720" doc:"Source address"`
	Quality   string `json:"quality" example:"full" doc:"Requested quality mode"`
	Execution string `json:"execution" example:"goroutine" doc:"Worker execution context"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceConnectedEvent.
func (e SourceConnectedEvent) Type() uint32 { return TypeSourceConnected }

// SourceDisconnectedEvent is published when a connection ends for any reason.
// Displays should show a "no signal" state on receipt.
type SourceDisconnectedEvent struct {
	SessionID string `json:"session_id" doc:"Capture session identifier"`
	Name      string `json:"name" doc:"Source name"`
	Reason    string `json:"reason" example:"source gone" doc:"Why the connection ended"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourceDisconnectedEvent.
func (e SourceDisconnectedEvent) Type() uint32 { return TypeSourceDisconnected }

// FrameReadyEvent announces a frame handed to the display. It never carries pixels.
type FrameReadyEvent struct {
	Seq       uint64 `json:"seq" example:"1200" doc:"Frame sequence number"`
	Width     int    `json:"width" example:"1920" doc:"Frame width"`
	Height    int    `json:"height" example:"1080" doc:"Frame height"`
	Repeated  bool   `json:"repeated" doc:"True when the previous frame was re-shown to cover a gap"`
	Timestamp string `json:"timestamp" doc:"Capture timestamp"`
}

// Type returns the event type identifier for FrameReadyEvent.
func (e FrameReadyEvent) Type() uint32 { return TypeFrameReady }

// PipelineErrorEvent reports a per-connection or sampled per-frame failure.
type PipelineErrorEvent struct {
	Kind      string `json:"kind" example:"connect" doc:"Error kind"`
	Message   string `json:"message" example:"connect STUDIO: no such source" doc:"Error message"`
	Source    string `json:"source,omitempty" doc:"Source name"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineErrorEvent.
func (e PipelineErrorEvent) Type() uint32 { return TypePipelineError }

// FPSUpdateEvent carries the presentation frame rate over the last second.
type FPSUpdateEvent struct {
	Value     float64 `json:"value" example:"59.9" doc:"Frames displayed in the last second"`
	Timestamp string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for FPSUpdateEvent.
func (e FPSUpdateEvent) Type() uint32 { return TypeFPSUpdate }

// CadenceLockedEvent is published once the rate estimator finishes warm-up.
type CadenceLockedEvent struct {
	IntervalMs float64 `json:"interval_ms" example:"16.683" doc:"Detected inter-frame interval"`
	FPS        float64 `json:"fps" example:"59.94" doc:"Detected source frame rate"`
	Samples    int     `json:"samples" example:"30" doc:"Arrivals used for the estimate"`
	Timestamp  string  `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for CadenceLockedEvent.
func (e CadenceLockedEvent) Type() uint32 { return TypeCadenceLocked }

// SourcesChangedEvent is published after the source directory reloads.
type SourcesChangedEvent struct {
	Count     int    `json:"count" example:"4" doc:"Number of sources now listed"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for SourcesChangedEvent.
func (e SourcesChangedEvent) Type() uint32 { return TypeSourcesChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
