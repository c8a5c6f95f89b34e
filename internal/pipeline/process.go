package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/process"
	"github.com/smazurov/returnfeed/internal/timing"
	"github.com/smazurov/returnfeed/internal/wire"
)

// ExitConnectFailed is the worker exit code for a failed connect. The
// child has already reported the error, so the parent does not treat it
// as a crash.
const ExitConnectFailed = 2

// WorkerCommand describes how to launch a worker child.
type WorkerCommand struct {
	// Binary is the returnfeed executable. Empty means the running binary.
	Binary string
	// Args are placed between the binary and the worker flags.
	Args []string
	// Timing is passed to the child's timeout controller.
	Timing timing.Config
	// ChannelCapacity sizes the child's own frame queue.
	ChannelCapacity int
	// Config is passed through so the child reads the same receiver settings.
	Config string
}

// argv builds the child command line.
func (c WorkerCommand) argv(src frame.SourceHandle, q frame.Quality) ([]string, error) {
	bin := c.Binary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker binary: %w", err)
		}
		bin = exe
	}
	args := append([]string{bin}, c.Args...)
	args = append(args, "worker",
		"--name", src.Name,
		"--address", src.Address,
		"--quality", string(q),
	)
	if c.Timing.Base > 0 {
		args = append(args, "--timing-base-ms", strconv.FormatInt(c.Timing.Base.Milliseconds(), 10))
	}
	if c.Timing.Max > 0 {
		args = append(args, "--timing-max-ms", strconv.FormatInt(c.Timing.Max.Milliseconds(), 10))
	}
	if c.ChannelCapacity > 0 {
		args = append(args, "--channel-capacity", strconv.Itoa(c.ChannelCapacity))
	}
	if c.Config != "" {
		args = append(args, "--config", c.Config)
	}
	return args, nil
}

// ProcessExecutor runs the worker in a child process that streams wire
// records on stdout. A crash in the child's capture stack ends only the child.
type ProcessExecutor struct {
	id     string
	cmd    WorkerCommand
	logger *slog.Logger

	proc *process.Process
	out  *framechan.Channel
	sink capture.StatusSink
	src  frame.SourceHandle

	sawDisconnect atomic.Bool
	sawConnect    atomic.Bool
	stopping      atomic.Bool
	done          chan struct{}
	doneOnce      sync.Once
}

// NewProcessExecutor creates an executor that launches cmd.
func NewProcessExecutor(id string, cmd WorkerCommand, logger *slog.Logger) *ProcessExecutor {
	return &ProcessExecutor{
		id:     id,
		cmd:    cmd,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the child. Connect failures arrive later as an error
// status followed by the child exiting.
func (p *ProcessExecutor) Start(_ context.Context, src frame.SourceHandle, q frame.Quality, out *framechan.Channel, sink capture.StatusSink) error {
	args, err := p.cmd.argv(src, q)
	if err != nil {
		return &frame.ConnectError{Source: src, Err: err}
	}
	p.out, p.sink, p.src = out, sink, src

	proc := process.NewProcess("worker-"+p.id, args, p.logger)
	proc.SetLogParser(logging.GetLogger("worker").With("source", src.Name), parseWorkerLine)
	proc.SetStdoutReader(p.consume)
	if err := proc.Start(); err != nil {
		return &frame.ConnectError{Source: src, Err: err}
	}
	p.proc = proc

	go p.wait()
	return nil
}

// consume decodes the child's stdout until it closes.
func (p *ProcessExecutor) consume(r io.Reader) error {
	dec := wire.NewDecoder(r)
	for {
		rec, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch rec.Kind {
		case wire.KindFrame:
			if p.out.TryPush(rec.Frame) {
				metrics.IncChannelEvictions()
			}
		case wire.KindStatus:
			switch rec.Status.Kind {
			case capture.StatusConnected:
				p.sawConnect.Store(true)
			case capture.StatusDisconnected:
				p.sawDisconnect.Store(true)
			}
			p.sink.Report(rec.Status)
		}
	}
}

func (p *ProcessExecutor) wait() {
	code := p.proc.Wait()

	if err := p.proc.ReadError(); err != nil {
		p.logger.Warn("Worker output corrupt", "id", p.id, "error", err)
	}
	if code != 0 && code != ExitConnectFailed && !p.stopping.Load() {
		info := p.proc.Info()
		p.logger.Error("Worker crashed", "id", p.id, "pid", info.PID, "exit_code", code, "uptime", info.Uptime().Round(time.Millisecond))
		p.sink.Report(capture.Status{
			Kind:      capture.StatusError,
			Source:    p.src,
			ErrorKind: events.ErrorKindWorkerCrash,
			Message:   fmt.Sprintf("worker exited with code %d", code),
		})
	}
	// A killed or crashed child cannot report its own disconnect.
	if p.sawConnect.Load() && !p.sawDisconnect.Load() {
		reason := fmt.Sprintf("worker exited with code %d", code)
		if code == process.ExitCodeKilled {
			reason = "killed"
		}
		p.sink.Report(capture.Status{Kind: capture.StatusDisconnected, Source: p.src, Reason: reason})
	}
	p.doneOnce.Do(func() { close(p.done) })
}

// Stop sends SIGINT to the child.
func (p *ProcessExecutor) Stop() {
	p.stopping.Store(true)
	if p.proc != nil {
		p.proc.Interrupt()
	}
}

// Kill sends SIGKILL to the child.
func (p *ProcessExecutor) Kill() {
	p.stopping.Store(true)
	if p.proc == nil {
		p.doneOnce.Do(func() { close(p.done) })
		return
	}
	p.proc.Kill()
}

// Done is closed after the child exits and its output is drained.
func (p *ProcessExecutor) Done() <-chan struct{} { return p.done }

// parseWorkerLine extracts the level from a child's slog text line.
func parseWorkerLine(line string) (level, msg string) {
	_, rest, ok := strings.Cut(line, "level=")
	if !ok {
		return "info", line
	}
	lvl, _, _ := strings.Cut(rest, " ")
	return strings.ToLower(lvl), line
}
