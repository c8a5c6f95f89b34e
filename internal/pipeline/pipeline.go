// Package pipeline supervises the capture worker for the selected source.
//
// A single control goroutine owns the connection. Commands arrive over a
// channel, the worker runs in a goroutine or a child process, and when the
// connection ends the pipeline reconnects with exponential backoff. Frames
// flow worker -> framechan -> pacing.Scheduler -> display.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/pacing"
	"github.com/smazurov/returnfeed/internal/throughput"
	"github.com/smazurov/returnfeed/internal/timing"
)

// Channel capacities used when Config.ChannelCapacity is zero.
const (
	DefaultGoroutineCapacity = 3
	DefaultProcessCapacity   = 5

	// DefaultStopGrace is twenty times the maximum capture timeout.
	DefaultStopGrace = 2 * time.Second
)

// ErrNotRunning is returned by commands sent after Run has returned.
var ErrNotRunning = errors.New("pipeline not running")

// State is the connection state reported by Status.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateStopped      State = "stopped"
)

// Config configures a Pipeline.
type Config struct {
	Execution       string
	Quality         frame.Quality
	ChannelCapacity int
	AutoReconnect   bool
	StopGrace       time.Duration
	Reconnect       ReconnectConfig
	Timing          timing.Config
	WarmupFrames    int
	MaxRepeats      int
	ReportInterval  time.Duration
	Receiver        capture.ReceiverConfig
	Worker          WorkerCommand
}

// DefaultConfig returns a goroutine pipeline with auto-reconnect.
func DefaultConfig() Config {
	return Config{
		Execution:      ExecutionGoroutine,
		Quality:        frame.QualityFull,
		AutoReconnect:  true,
		StopGrace:      DefaultStopGrace,
		Reconnect:      DefaultReconnectConfig(),
		Timing:         timing.DefaultConfig(),
		WarmupFrames:   pacing.DefaultWindow,
		MaxRepeats:     pacing.DefaultMaxRepeats,
		ReportInterval: time.Second,
		Receiver:       capture.DefaultReceiverConfig(),
	}
}

// Status is a snapshot of the pipeline for the API.
type Status struct {
	State       State                    `json:"state" enum:"idle,connecting,connected,reconnecting,stopped" doc:"Connection state"`
	Execution   string                   `json:"execution" doc:"Worker execution context"`
	SessionID   string                   `json:"session_id,omitempty" doc:"Capture session identifier"`
	Source      *frame.SourceHandle      `json:"source,omitempty" doc:"Selected source"`
	Quality     frame.Quality            `json:"quality,omitempty" doc:"Requested quality"`
	ConnectedAt *time.Time               `json:"connected_at,omitempty" doc:"When the current connection was established"`
	Attempt     int                      `json:"attempt" doc:"Consecutive failed connection attempts"`
	NextRetry   *time.Time               `json:"next_retry,omitempty" doc:"When the next reconnect is scheduled"`
	LastError   string                   `json:"last_error,omitempty" doc:"Most recent connection error"`
	Cadence     pacing.CadenceEstimate   `json:"cadence"`
	FPS         float64                  `json:"fps" doc:"Frames presented in the last second"`
	Timing      *timing.State            `json:"timing,omitempty" doc:"Capture timeout state, when the worker runs in-process"`
	PeakMisses  int                      `json:"peak_misses" doc:"Longest miss run on the current connection"`
	Channel     framechan.ChannelStats   `json:"channel"`
	Presented   pacing.PresentationStats `json:"presented"`
	Worker      *capture.WorkerStats     `json:"worker,omitempty" doc:"Worker counters, when the worker runs in-process"`
}

// session is one executor run. Only the control loop mutates it except
// for connected, which the sink sets.
type session struct {
	id        string
	exec      Executor
	src       frame.SourceHandle
	quality   frame.Quality
	connected atomic.Bool
	since     time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithConnectionSink receives connected/disconnected transitions.
func WithConnectionSink(c pacing.ConnectionSink) Option {
	return func(p *Pipeline) { p.conn = c }
}

// WithExecutorFactory replaces how executors are created.
func WithExecutorFactory(fn func(id string) Executor) Option {
	return func(p *Pipeline) { p.newExecutor = fn }
}

// Pipeline owns the frame channel, the presentation scheduler and the
// current worker.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	bus     events.Publisher
	display pacing.Display
	conn    pacing.ConnectionSink

	pctx     *capture.Context
	ch       *framechan.Channel
	sched    *pacing.Scheduler
	inst     *throughput.Instrument
	reporter *throughput.Reporter

	newExecutor func(id string) Executor
	cmds        chan Command
	running     atomic.Bool
	stopped     chan struct{}

	// control loop state
	target        *frame.SourceHandle
	targetQuality frame.Quality

	mu        sync.RWMutex
	current   *session
	state     State
	attempt   int
	nextRetry time.Time
	lastErr   string
}

// New creates a pipeline presenting to display and publishing on bus.
func New(cfg Config, display pacing.Display, bus events.Publisher, opts ...Option) (*Pipeline, error) {
	exec, err := ParseExecution(cfg.Execution)
	if err != nil {
		return nil, err
	}
	cfg.Execution = exec
	if cfg.Quality == "" {
		cfg.Quality = frame.QualityFull
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultGoroutineCapacity
		if exec == ExecutionProcess {
			cfg.ChannelCapacity = DefaultProcessCapacity
		}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Reconnect.RetryDelay <= 0 || cfg.Reconnect.MaxRetryDelay <= 0 {
		def := DefaultReconnectConfig()
		cfg.Reconnect.RetryDelay, cfg.Reconnect.MaxRetryDelay = def.RetryDelay, def.MaxRetryDelay
	}
	if cfg.MaxRepeats < 0 {
		cfg.MaxRepeats = pacing.DefaultMaxRepeats
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = time.Second
	}
	if cfg.Worker.ChannelCapacity == 0 {
		cfg.Worker.ChannelCapacity = cfg.ChannelCapacity
	}
	if cfg.Worker.Timing == (timing.Config{}) {
		cfg.Worker.Timing = cfg.Timing
	}

	p := &Pipeline{
		cfg:     cfg,
		bus:     bus,
		display: display,
		cmds:    make(chan Command),
		stopped: make(chan struct{}),
		state:   StateIdle,
	}
	if c, ok := display.(pacing.ConnectionSink); ok {
		p.conn = c
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.GetLogger("pipeline")
	}

	p.pctx = capture.NewContext(p.logger)
	p.ch = framechan.New(cfg.ChannelCapacity)
	p.inst = throughput.New(throughput.DefaultWindow)
	p.reporter = throughput.NewReporter(p.inst, bus, cfg.ReportInterval)
	p.sched = pacing.NewScheduler(p.ch, pacing.NewEstimator(cfg.WarmupFrames), display,
		pacing.WithMaxRepeats(cfg.MaxRepeats),
		pacing.WithInstrument(p.inst),
		pacing.WithLockHandler(p.cadenceLocked),
	)
	if p.newExecutor == nil {
		p.newExecutor = p.defaultExecutor
	}
	return p, nil
}

func (p *Pipeline) defaultExecutor(id string) Executor {
	if p.cfg.Execution == ExecutionProcess {
		return NewProcessExecutor(id, p.cfg.Worker, p.logger)
	}
	return NewGoroutineExecutor(p.pctx, p.cfg.Receiver, p.cfg.Timing, logging.GetLogger("capture"))
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Run drives the pipeline until ctx is cancelled. A pipeline runs once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already running")
	}
	defer close(p.stopped)

	session := p.pctx.Init()
	p.logger.Info("Pipeline started", "execution", p.cfg.Execution, "channel_capacity", p.cfg.ChannelCapacity, "session_id", session)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.sched.Run(schedCtx)
	}()
	p.reporter.Start(ctx)

	defer func() {
		p.stopSession()
		p.pctx.Shutdown()
		p.ch.Close()
		cancelSched()
		wg.Wait()
		p.reporter.Stop()
		p.setState(StateStopped)
		p.logger.Info("Pipeline stopped")
	}()

	var (
		retry  *time.Timer
		retryC <-chan time.Time
	)
	cancelRetry := func() {
		if retry != nil {
			retry.Stop()
		}
		retry, retryC = nil, nil
		p.mu.Lock()
		p.nextRetry = time.Time{}
		p.mu.Unlock()
	}
	scheduleRetry := func(wasConnected bool) {
		if !p.cfg.AutoReconnect || p.target == nil {
			p.setState(StateIdle)
			return
		}
		p.mu.Lock()
		if wasConnected {
			p.attempt = 1
		} else {
			p.attempt++
		}
		attempt := p.attempt
		p.mu.Unlock()

		if limit := p.cfg.Reconnect.MaxRetries; limit > 0 && attempt > limit {
			p.logger.Error("Giving up on source", "source", p.target.Name, "attempts", attempt-1)
			p.setState(StateIdle)
			return
		}
		delay := backoffDelay(attempt, p.cfg.Reconnect)
		p.logger.Warn("Reconnecting", "source", p.target.Name, "attempt", attempt, "delay", delay)
		metrics.IncReconnects()

		retry = time.NewTimer(delay)
		retryC = retry.C
		p.mu.Lock()
		p.state = StateReconnecting
		p.nextRetry = time.Now().Add(delay)
		p.mu.Unlock()
	}

	for {
		var done <-chan struct{}
		if s := p.currentSession(); s != nil {
			done = s.exec.Done()
		}

		select {
		case <-ctx.Done():
			cancelRetry()
			return nil

		case cmd := <-p.cmds:
			cancelRetry()
			switch c := cmd.(type) {
			case Connect:
				p.mu.Lock()
				p.attempt = 0
				p.mu.Unlock()
				err := p.connect(ctx, c.Source, c.Quality)
				if err != nil {
					scheduleRetry(false)
				}
				replyTo(c.reply, err)
			case Disconnect:
				p.target = nil
				p.stopSession()
				p.setState(StateIdle)
				replyTo(c.reply, nil)
			}

		case <-done:
			s := p.currentSession()
			wasConnected := s.connected.Load()
			p.endSession(s)
			if err := executorErr(s.exec); err != nil {
				p.setLastError(err)
			}
			scheduleRetry(wasConnected)

		case <-retryC:
			retry, retryC = nil, nil
			if p.target == nil {
				continue
			}
			if err := p.connect(ctx, *p.target, p.targetQuality); err != nil {
				scheduleRetry(false)
			}
		}
	}
}

func executorErr(exec Executor) error {
	if g, ok := exec.(*GoroutineExecutor); ok {
		return g.Err()
	}
	return nil
}

// connect replaces the current session with one for src.
func (p *Pipeline) connect(ctx context.Context, src frame.SourceHandle, q frame.Quality) error {
	if q == "" {
		q = p.cfg.Quality
	}
	p.stopSession()

	p.target = &src
	p.targetQuality = q

	s := &session{id: uuid.NewString(), src: src, quality: q}
	s.exec = p.newExecutor(s.id)

	p.mu.Lock()
	p.current = s
	p.state = StateConnecting
	p.mu.Unlock()

	p.logger.Info("Connecting", "source", src.Name, "address", src.Address, "quality", q, "execution", p.cfg.Execution)
	if err := s.exec.Start(ctx, src, q, p.ch, &sessionSink{p: p, s: s}); err != nil {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
		p.setLastError(err)
		return err
	}
	return nil
}

// stopSession ends the current session, killing the worker if it ignores
// the stop request for longer than the grace period.
func (p *Pipeline) stopSession() {
	s := p.currentSession()
	if s == nil {
		return
	}
	if terminate(s.exec, p.cfg.StopGrace, p.logger) {
		p.logger.Warn("Worker killed", "source", s.src.Name, "session", s.id)
	}
	p.endSession(s)
}

func (p *Pipeline) endSession(s *session) {
	p.mu.Lock()
	if p.current == s {
		p.current = nil
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.sched.Reset()
	p.ch.Drain()
	p.inst.Reset()
	metrics.SetConnected(s.src.Name, false)
	if p.conn != nil {
		p.conn.SetConnected(false)
	}
}

func (p *Pipeline) currentSession() *session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Pipeline) setState(st State) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
}

func (p *Pipeline) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err.Error()
	p.mu.Unlock()
}

func (p *Pipeline) cadenceLocked(est pacing.CadenceEstimate) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.CadenceLockedEvent{
		IntervalMs: float64(est.Interval) / float64(time.Millisecond),
		FPS:        est.FPS(),
		Samples:    est.Samples,
		Timestamp:  events.Timestamp(time.Now()),
	})
}

// Submit hands cmd to the control loop and waits for its result.
func (p *Pipeline) Submit(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	switch c := cmd.(type) {
	case Connect:
		c.reply = reply
		cmd = c
	case Disconnect:
		c.reply = reply
		cmd = c
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}

	select {
	case p.cmds <- cmd:
	case <-p.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect switches to src. It returns the connect error, if any; with
// auto-reconnect enabled a retry is already scheduled when it does.
func (p *Pipeline) Connect(ctx context.Context, src frame.SourceHandle, q frame.Quality) error {
	return p.Submit(ctx, Connect{Source: src, Quality: q})
}

// Disconnect stops the current connection and cancels reconnects.
func (p *Pipeline) Disconnect(ctx context.Context) error {
	return p.Submit(ctx, Disconnect{})
}

// Status returns a snapshot for the API.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	st := Status{
		State:     p.state,
		Execution: p.cfg.Execution,
		SessionID: p.pctx.SessionID(),
		Attempt:   p.attempt,
		LastError: p.lastErr,
	}
	if !p.nextRetry.IsZero() {
		next := p.nextRetry
		st.NextRetry = &next
	}
	s := p.current
	p.mu.RUnlock()

	if s != nil {
		src := s.src
		st.Source = &src
		st.Quality = s.quality
		if s.connected.Load() {
			p.mu.RLock()
			since := s.since
			p.mu.RUnlock()
			st.ConnectedAt = &since
		}
		if ws, ok := s.exec.(workerStats); ok {
			if stats, ok := ws.WorkerStats(); ok {
				st.Worker = &stats
				st.Timing = &stats.Timing
				st.PeakMisses = stats.PeakMisses
			}
		}
	}

	st.Cadence = p.sched.Estimator().Estimate()
	st.FPS = p.inst.CurrentFPS()
	st.Channel = p.ch.Stats()
	st.Presented = p.sched.Stats()
	return st
}

// sessionSink turns worker statuses into events, metrics and state.
type sessionSink struct {
	p *Pipeline
	s *session
}

func (k *sessionSink) Report(st capture.Status) {
	p, s := k.p, k.s
	now := time.Now()
	name := st.Source.Name
	if name == "" {
		name = s.src.Name
	}

	switch st.Kind {
	case capture.StatusConnected:
		s.connected.Store(true)
		p.mu.Lock()
		s.since = now
		if p.current == s {
			p.state = StateConnected
			p.attempt = 0
			p.lastErr = ""
		}
		p.mu.Unlock()
		metrics.SetConnected(name, true)
		if p.conn != nil {
			p.conn.SetConnected(true)
		}
		p.publish(events.SourceConnectedEvent{
			SessionID: st.SessionID,
			Name:      name,
			Address:   s.src.Address,
			Quality:   string(s.quality),
			Execution: p.cfg.Execution,
			Timestamp: events.Timestamp(now),
		})

	case capture.StatusDisconnected:
		s.connected.Store(false)
		metrics.SetConnected(name, false)
		p.sched.Reset()
		if p.conn != nil {
			p.conn.SetConnected(false)
		}
		p.publish(events.SourceDisconnectedEvent{
			SessionID: st.SessionID,
			Name:      name,
			Reason:    st.Reason,
			Timestamp: events.Timestamp(now),
		})

	case capture.StatusError:
		if st.ErrorKind == events.ErrorKindConnect || st.ErrorKind == events.ErrorKindWorkerCrash {
			p.mu.Lock()
			p.lastErr = st.Message
			p.mu.Unlock()
		}
		p.publish(events.PipelineErrorEvent{
			Kind:      st.ErrorKind,
			Message:   st.Message,
			Source:    name,
			Timestamp: events.Timestamp(now),
		})

	case capture.StatusFrameReady:
		// Frames are announced by the display on presentation.
	}
}

func (p *Pipeline) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
