package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/timing"
)

// Execution contexts.
const (
	ExecutionGoroutine = "goroutine"
	ExecutionProcess   = "process"
)

// ParseExecution validates an execution context name. Empty means goroutine.
func ParseExecution(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ExecutionGoroutine:
		return ExecutionGoroutine, nil
	case ExecutionProcess:
		return ExecutionProcess, nil
	default:
		return "", fmt.Errorf("invalid execution %q: must be %q or %q", s, ExecutionGoroutine, ExecutionProcess)
	}
}

// Executor runs one capture worker connection.
type Executor interface {
	Start(ctx context.Context, src frame.SourceHandle, q frame.Quality, out *framechan.Channel, sink capture.StatusSink) error
	// Stop asks the worker to finish.
	Stop()
	// Kill ends the worker without its cooperation.
	Kill()
	// Done is closed once the worker has ended.
	Done() <-chan struct{}
}

// workerStats is implemented by executors that can read the worker's
// counters directly.
type workerStats interface {
	WorkerStats() (capture.WorkerStats, bool)
}

// terminate stops exec, waiting up to grace before killing it. It reports
// whether a kill was needed.
func terminate(exec Executor, grace time.Duration, logger *slog.Logger) bool {
	exec.Stop()
	select {
	case <-exec.Done():
		return false
	case <-time.After(grace):
	}

	logger.Warn("Worker did not stop within grace period, killing", "grace", grace)
	metrics.IncWorkerKills()
	exec.Kill()
	select {
	case <-exec.Done():
	case <-time.After(grace):
		logger.Error("Worker did not exit after kill")
	}
	return true
}

// GoroutineExecutor runs the worker in the current process.
type GoroutineExecutor struct {
	pctx   *capture.Context
	rcfg   capture.ReceiverConfig
	tcfg   timing.Config
	logger *slog.Logger

	// newReceiver is replaceable in tests.
	newReceiver func(address string, cfg capture.ReceiverConfig) (capture.Receiver, error)

	mu       sync.Mutex
	worker   *capture.Worker
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

// NewGoroutineExecutor creates an executor that connects through pctx.
func NewGoroutineExecutor(pctx *capture.Context, rcfg capture.ReceiverConfig, tcfg timing.Config, logger *slog.Logger) *GoroutineExecutor {
	return &GoroutineExecutor{
		pctx:        pctx,
		rcfg:        rcfg,
		tcfg:        tcfg,
		logger:      logger,
		newReceiver: capture.NewReceiver,
		done:        make(chan struct{}),
	}
}

// Start connects synchronously and runs the loop in a goroutine.
func (g *GoroutineExecutor) Start(ctx context.Context, src frame.SourceHandle, q frame.Quality, out *framechan.Channel, sink capture.StatusSink) error {
	recv, err := g.newReceiver(src.Address, g.rcfg)
	if err != nil {
		err = &frame.ConnectError{Source: src, Err: err}
		sink.Report(capture.Status{Kind: capture.StatusError, Source: src, ErrorKind: events.ErrorKindConnect, Message: err.Error()})
		return err
	}

	w := capture.NewWorker(g.pctx, recv, out,
		capture.WithTiming(timing.New(g.tcfg)),
		capture.WithStatusSink(sink),
		capture.WithLogger(g.logger),
	)
	if err := w.Connect(ctx, src, q); err != nil {
		return err
	}

	g.mu.Lock()
	g.worker = w
	g.mu.Unlock()

	go func() {
		err := w.RunLoop(ctx)
		g.mu.Lock()
		g.err = err
		g.mu.Unlock()
		g.finish()
	}()
	return nil
}

func (g *GoroutineExecutor) finish() {
	g.doneOnce.Do(func() { close(g.done) })
}

// Stop requests the worker loop to end.
func (g *GoroutineExecutor) Stop() {
	if w := g.currentWorker(); w != nil {
		w.Stop()
	}
}

// Kill abandons the worker goroutine and closes its receiver.
func (g *GoroutineExecutor) Kill() {
	w := g.currentWorker()
	if w == nil {
		g.finish()
		return
	}
	g.logger.Warn("Abandoning capture goroutine", "source", w.Source().Name)
	w.ForceClose("killed")
	g.finish()
}

// Done is closed when the worker loop returns or the worker is killed.
func (g *GoroutineExecutor) Done() <-chan struct{} { return g.done }

// Err returns the loop's result once Done is closed.
func (g *GoroutineExecutor) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// WorkerStats returns the live worker's counters.
func (g *GoroutineExecutor) WorkerStats() (capture.WorkerStats, bool) {
	w := g.currentWorker()
	if w == nil {
		return capture.WorkerStats{}, false
	}
	return w.Stats(), true
}

func (g *GoroutineExecutor) currentWorker() *capture.Worker {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.worker
}
