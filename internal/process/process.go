package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/returnfeed/internal/logging"
)

// ExitCodeKilled is reported when a process had to be force-killed.
const ExitCodeKilled = 137

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg, worker children).
type LogParser func(line string) (level, msg string)

// StdoutReader consumes the raw stdout stream. When set, stdout is treated
// as binary data and is not logged line by line.
type StdoutReader func(r io.Reader) error

// Process manages the lifecycle of one subprocess.
type Process struct {
	id            string
	args          []string
	env           []string
	logger        logging.Logger
	processLogger logging.Logger // logger for process output (nil = use logger)
	logParser     LogParser
	outputHandler OutputHandler
	stdoutReader  StdoutReader

	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	startedAt time.Time
	exitCode  int
	readErr   error
	lastErr   error
	done      chan struct{}
}

// NewProcess creates a process from an argument vector. args[0] is the binary.
func NewProcess(id string, args []string, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		args:            args,
		logger:          logger,
		state:           StateIdle,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
	}
}

// NewProcessFromCommand parses a shell-like command string and creates a process.
func NewProcessFromCommand(id, command string, logger logging.Logger) (*Process, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return NewProcess(id, args, logger), nil
}

// ID returns the process identifier.
func (p *Process) ID() string { return p.id }

// Args returns a copy of the argument vector.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler forwards every output line to h in addition to logging it.
func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// SetStdoutReader routes stdout to fn instead of the line logger.
func (p *Process) SetStdoutReader(fn StdoutReader) {
	p.stdoutReader = fn
}

// SetEnv appends environment entries (KEY=VALUE) to the inherited environment.
func (p *Process) SetEnv(env ...string) {
	p.env = append(p.env, env...)
}

// SetGracefulTimeout sets how long Terminate waits after SIGINT before killing.
func (p *Process) SetGracefulTimeout(d time.Duration) {
	if d > 0 {
		p.gracefulTimeout = d
	}
}

// Start launches the subprocess and returns once it is running.
// A Process can be started once.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil || p.state != StateIdle {
		return fmt.Errorf("process %s already started", p.id)
	}
	if len(p.args) == 0 {
		return p.failStart(errors.New("empty command"))
	}
	p.state = StateStarting

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(p.env) > 0 {
		cmd.Env = append(os.Environ(), p.env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return p.failStart(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return p.failStart(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return p.failStart(fmt.Errorf("start %s: %w", p.args[0], err))
	}

	p.cmd = cmd
	p.state = StateRunning
	p.startedAt = time.Now()
	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", strings.Join(p.args, " "))

	var output sync.WaitGroup
	output.Add(2)
	go func() {
		defer output.Done()
		p.consumeStdout(stdout)
	}()
	go func() {
		defer output.Done()
		p.streamOutput(stderr, "stderr")
	}()

	// Pipes must be fully read before Wait closes them.
	go func() {
		output.Wait()
		waitErr := cmd.Wait()
		p.finish(waitErr)
	}()

	return nil
}

func (p *Process) failStart(err error) error {
	p.state = StateError
	p.lastErr = err
	p.logger.Error("Failed to start process", "id", p.id, "error", err)
	close(p.done)
	return err
}

func (p *Process) finish(waitErr error) {
	p.mu.Lock()
	code := exitCodeFromError(waitErr)
	p.exitCode = code
	if code != 0 && p.state != StateStopping {
		p.state = StateError
		p.lastErr = waitErr
	} else {
		p.state = StateIdle
	}
	p.mu.Unlock()

	if waitErr != nil && code == 1 {
		p.logger.Error("Process exited with error", "id", p.id, "error", waitErr)
	}
	p.logger.Info("Process exited", "id", p.id, "exit_code", code)
	close(p.done)
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Interrupt sends SIGINT without waiting.
func (p *Process) Interrupt() {
	p.signal(syscall.SIGINT)
}

// Kill sends SIGKILL without waiting.
func (p *Process) Kill() {
	p.signal(syscall.SIGKILL)
}

func (p *Process) signal(sig syscall.Signal) {
	p.mu.Lock()
	cmd := p.cmd
	if cmd != nil && p.state == StateRunning {
		p.state = StateStopping
	}
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}

	// The child leads its own process group; signal the group so helpers
	// it spawned cannot keep the output pipes open.
	pid := cmd.Process.Pid
	p.logger.Debug("Signalling process group", "id", p.id, "pid", pid, "signal", sig.String())
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to signal process", "id", p.id, "signal", sig.String(), "error", err)
	}
}

// Terminate sends SIGINT, waits up to the graceful timeout, then force-kills.
// Returns the exit code, ExitCodeKilled when the kill was needed.
func (p *Process) Terminate() int {
	p.Interrupt()
	return p.waitForExit(p.gracefulTimeout)
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(timeout time.Duration) int {
	select {
	case <-p.done:
		return p.Wait()
	case <-time.After(timeout):
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "id", p.id, "timeout", timeout)
		p.Kill()
		select {
		case <-p.done:
		case <-time.After(p.killTimeout):
			p.logger.Error("Process did not exit after kill signal", "id", p.id)
		}
		return ExitCodeKilled
	}
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:        p.id,
		State:     p.state,
		StartedAt: p.startedAt,
		ExitCode:  p.exitCode,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// ReadError returns the error the stdout reader finished with, if any.
func (p *Process) ReadError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readErr
}

func (p *Process) consumeStdout(stdout io.Reader) {
	if p.stdoutReader == nil {
		p.streamOutput(stdout, "stdout")
		return
	}
	err := p.stdoutReader(stdout)
	if err != nil && !errors.Is(err, io.EOF) {
		p.mu.Lock()
		p.readErr = err
		p.mu.Unlock()
	}
	// Keep the child from blocking on a full pipe once the reader gives up.
	_, _ = io.Copy(io.Discard, stdout)
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		// Terminated by signal.
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
	}
	return 1
}

// streamOutput logs each line of a text stream through the process logger.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "panic", "error":
			logger.Error(msg)
		case "warning", "warn":
			logger.Warn(msg)
		case "debug", "trace", "verbose":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "id", p.id, "source", source, "error", err)
	}
}

// SplitCommand splits a command string into arguments with POSIX shell
// quoting: backslashes are literal inside single quotes, and inside double
// quotes they only escape ", \, $ and `.
func SplitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	hasArg := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quoteChar == '\'':
			if r == '\'' {
				quoteChar = 0
			} else {
				current.WriteRune(r)
			}
		case quoteChar == '"':
			switch {
			case r == '"':
				quoteChar = 0
			case r == '\\' && i+1 < len(runes) && strings.ContainsRune(`"\$`+"`", runes[i+1]):
				i++
				current.WriteRune(runes[i])
			default:
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quoteChar = r
			hasArg = true
		case r == ' ' || r == '\t':
			if hasArg {
				args = append(args, current.String())
				current.Reset()
				hasArg = false
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
			hasArg = true
		default:
			current.WriteRune(r)
			hasArg = true
		}
	}

	if quoteChar != 0 {
		return nil, errors.New("unclosed quote in command")
	}
	if hasArg {
		args = append(args, current.String())
	}

	return args, nil
}
