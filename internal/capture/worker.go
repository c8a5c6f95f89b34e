package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/returnfeed/internal/convert"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/timing"
)

// formatLogInterval bounds how often unsupported-format drops are logged.
const formatLogInterval = 5 * time.Second

var (
	errNotConnected   = errors.New("worker not connected")
	errWorkerClosed   = errors.New("worker closed")
	errAlreadyRunning = errors.New("worker loop already running")
)

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	Frames        uint64       `json:"frames" doc:"Frames converted and queued"`
	Misses        uint64       `json:"misses" doc:"Capture calls that returned nothing"`
	FormatErrors  uint64       `json:"format_errors" doc:"Frames dropped as unsupported"`
	ReleaseErrors uint64       `json:"release_errors" doc:"Buffers the receiver failed to take back"`
	Panics        uint64       `json:"panics" doc:"Iterations recovered from a panic"`
	Timing        timing.State `json:"timing"`
	PeakMisses    int          `json:"peak_misses" doc:"Longest run of consecutive misses"`
}

// Worker runs the capture loop for one source connection.
type Worker struct {
	pctx   *Context
	recv   Receiver
	out    *framechan.Channel
	timing *timing.Controller
	sink   StatusSink
	logger *slog.Logger

	formatSampler *logging.Sampler

	mu        sync.Mutex
	src       frame.SourceHandle
	quality   frame.Quality
	sessionID string

	seq       atomic.Uint64
	stopped   atomic.Bool
	stopOnce  sync.Once
	running   atomic.Bool
	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	frames        atomic.Uint64
	misses        atomic.Uint64
	formatErrors  atomic.Uint64
	releaseErrors atomic.Uint64
	panics        atomic.Uint64
}

// Option configures a Worker.
type Option func(*Worker)

// WithTiming sets the adaptive timeout controller.
func WithTiming(c *timing.Controller) Option {
	return func(w *Worker) { w.timing = c }
}

// WithStatusSink sets where status reports go.
func WithStatusSink(s StatusSink) Option {
	return func(w *Worker) { w.sink = s }
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker that captures from recv into out.
func NewWorker(pctx *Context, recv Receiver, out *framechan.Channel, opts ...Option) *Worker {
	w := &Worker{
		pctx:          pctx,
		recv:          recv,
		out:           out,
		sink:          discardSink{},
		formatSampler: logging.NewSampler(formatLogInterval),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.timing == nil {
		w.timing = timing.New(timing.DefaultConfig())
	}
	if w.logger == nil {
		w.logger = logging.GetLogger("capture")
	}
	return w
}

// Source returns the handle passed to Connect.
func (w *Worker) Source() frame.SourceHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.src
}

// SessionID returns the capture session the connection belongs to.
func (w *Worker) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

// Timing exposes the worker's timeout controller for status reads.
func (w *Worker) Timing() *timing.Controller { return w.timing }

// Connected reports whether the worker holds a live connection.
func (w *Worker) Connected() bool { return w.connected.Load() }

// Connect claims src in the pipeline context and opens the receiver.
// A failed Connect may be retried; once the worker has disconnected it is
// spent and a new Worker is needed.
func (w *Worker) Connect(ctx context.Context, src frame.SourceHandle, q frame.Quality) error {
	if w.closed.Load() {
		return &frame.ConnectError{Source: src, Err: errWorkerClosed}
	}
	if w.connected.Load() {
		return &frame.ConnectError{Source: src, Err: frame.ErrHandleBusy}
	}

	w.mu.Lock()
	w.src = src
	w.quality = q
	w.mu.Unlock()

	session, err := w.pctx.acquire(w)
	if err != nil {
		return w.connectFailed(src, err)
	}
	if err := w.recv.Open(ctx, src, q); err != nil {
		w.pctx.release(w)
		return w.connectFailed(src, err)
	}

	w.mu.Lock()
	w.sessionID = session
	w.mu.Unlock()
	w.connected.Store(true)
	w.timing.Reset()

	w.logger.Info("Source connected", "source", src.Name, "address", src.Address, "quality", q, "session_id", session)
	w.sink.Report(Status{Kind: StatusConnected, Source: src, SessionID: session})
	return nil
}

func (w *Worker) connectFailed(src frame.SourceHandle, err error) error {
	cerr := &frame.ConnectError{Source: src, Err: err}
	w.logger.Warn("Connect failed", "source", src.Name, "address", src.Address, "error", err)
	metrics.IncCaptureError(events.ErrorKindConnect)
	w.sink.Report(Status{Kind: StatusError, Source: src, ErrorKind: events.ErrorKindConnect, Message: cerr.Error()})
	return cerr
}

// RunLoop captures until Stop, context cancellation or source loss. It
// returns nil on a requested stop and an error wrapping frame.ErrSourceGone
// when the source went away. The receiver is closed on return.
func (w *Worker) RunLoop(ctx context.Context) error {
	if !w.connected.Load() {
		return errNotConnected
	}
	if !w.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer w.running.Store(false)

	reason := "stopped"
	defer func() { w.disconnect(reason) }()

	for {
		if w.stopped.Load() {
			return nil
		}
		if ctx.Err() != nil {
			reason = "cancelled"
			return nil
		}

		if gone := w.iterate(); gone != nil {
			reason = gone.Error()
			w.logger.Warn("Source lost", "source", w.Source().Name, "error", gone)
			return gone
		}
	}
}

// Stop asks RunLoop to return after the current iteration. It is
// idempotent and safe from any goroutine.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.logger.Debug("Worker stop requested", "source", w.Source().Name)
	})
}

// ForceClose stops the worker and closes its receiver without waiting for
// RunLoop. A RunLoop still blocked in Capture returns once Capture does.
func (w *Worker) ForceClose(reason string) {
	w.Stop()
	w.disconnect(reason)
}

// Stopped reports whether Stop has been called.
func (w *Worker) Stopped() bool { return w.stopped.Load() }

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Frames:        w.frames.Load(),
		Misses:        w.misses.Load(),
		FormatErrors:  w.formatErrors.Load(),
		ReleaseErrors: w.releaseErrors.Load(),
		Panics:        w.panics.Load(),
		Timing:        w.timing.State(),
		PeakMisses:    w.timing.PeakMisses(),
	}
}

// iterate runs one capture. It returns a non-nil error only when the
// source is gone.
func (w *Worker) iterate() error {
	c := w.recv.Capture(w.timing.Timeout())

	switch c.Kind {
	case KindVideo:
		w.handleVideo(c)
	case KindAudio, KindMetadata:
		w.release(c)
	case KindNone:
		w.timing.OnMiss()
		w.misses.Add(1)
		metrics.IncCaptureMisses()
	case KindError:
		w.release(c)
		if errors.Is(c.Err, frame.ErrSourceGone) {
			return c.Err
		}
		return fmt.Errorf("%w: %w", frame.ErrSourceGone, c.Err)
	default:
		w.release(c)
		w.logger.Warn("Unknown capture kind", "kind", int(c.Kind))
	}

	metrics.SetCaptureTimeout(w.timing.Timeout())
	return nil
}

func (w *Worker) handleVideo(c Capture) {
	defer w.release(c)
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			metrics.IncCaptureError(events.ErrorKindFormat)
			w.logger.Error("Recovered panic in capture iteration", "panic", r)
		}
	}()

	if c.Frame == nil {
		w.timing.OnMiss()
		w.misses.Add(1)
		metrics.IncCaptureMisses()
		return
	}

	n, err := convert.Convert(c.Frame)
	if err != nil {
		// The source is still delivering, so this counts as a hit.
		w.timing.OnHit()
		w.formatErrors.Add(1)
		metrics.IncCaptureError(events.ErrorKindFormat)
		if ok, suppressed := w.formatSampler.Allow(); ok {
			w.logger.Warn("Dropping frame", "error", err, "suppressed", suppressed)
			w.sink.Report(Status{Kind: StatusError, Source: w.Source(), ErrorKind: events.ErrorKindFormat, Message: err.Error()})
		}
		return
	}

	n.Seq = w.seq.Add(1)
	if w.out.TryPush(n) {
		metrics.IncChannelEvictions()
	}
	w.timing.OnHit()
	w.frames.Add(1)
	metrics.IncFramesCaptured()
	w.sink.Report(Status{Kind: StatusFrameReady, Source: w.Source(), Seq: n.Seq})
}

func (w *Worker) release(c Capture) {
	if err := c.Release(); err != nil {
		w.releaseErrors.Add(1)
		metrics.IncCaptureError(events.ErrorKindRelease)
		w.logger.Warn("Frame release failed", "error", err)
	}
}

// disconnect closes the receiver and leaves the registry once.
func (w *Worker) disconnect(reason string) {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		wasConnected := w.connected.Swap(false)
		if err := w.recv.Close(); err != nil {
			w.logger.Warn("Receiver close failed", "error", err)
		}
		w.pctx.release(w)
		if wasConnected {
			src := w.Source()
			w.logger.Info("Source disconnected", "source", src.Name, "reason", reason)
			w.sink.Report(Status{Kind: StatusDisconnected, Source: src, SessionID: w.SessionID(), Reason: reason})
		}
	})
}
