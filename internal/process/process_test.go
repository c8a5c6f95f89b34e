package process

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(t *testing.T, command string) *Process {
	t.Helper()
	p, err := NewProcessFromCommand("test", command, testLogger())
	if err != nil {
		t.Fatalf("NewProcessFromCommand(%q): %v", command, err)
	}
	p.gracefulTimeout = 100 * time.Millisecond
	p.killTimeout = 500 * time.Millisecond
	return p
}

func waitDone(t *testing.T, p *Process, timeout time.Duration) int {
	t.Helper()
	select {
	case <-p.Done():
		return p.Wait()
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
		return -1
	}
}

func TestProcessExitCode(t *testing.T) {
	tests := []struct {
		command string
		want    int
	}{
		{"true", 0},
		{"sh -c 'exit 42'", 42},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			p := newTestProcess(t, tt.command)
			if err := p.Start(); err != nil {
				t.Fatal(err)
			}
			if got := waitDone(t, p, time.Second); got != tt.want {
				t.Errorf("exit code = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGracefulTerminate(t *testing.T) {
	p := newTestProcess(t, `sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.05; done"`)
	p.gracefulTimeout = time.Second

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if code := p.Terminate(); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if info := p.Info(); info.State != StateIdle {
		t.Errorf("state after graceful stop = %s, want idle", info.State)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	p := newTestProcess(t, `sh -c "trap '' INT; exec sleep 10"`)
	p.gracefulTimeout = 50 * time.Millisecond

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if code := p.Terminate(); code != ExitCodeKilled {
		t.Errorf("expected exit code %d, got %d", ExitCodeKilled, code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("terminate took too long: %v", elapsed)
	}
}

func TestKillReportsSignalExit(t *testing.T) {
	p := newTestProcess(t, "sleep 10")
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	p.Kill()
	if code := waitDone(t, p, time.Second); code != ExitCodeKilled {
		t.Errorf("exit code = %d, want %d", code, ExitCodeKilled)
	}
}

func TestStartTwice(t *testing.T) {
	p := newTestProcess(t, "true")
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err == nil {
		t.Error("second Start should fail")
	}
	waitDone(t, p, time.Second)
}

func TestStartNonExistentCommand(t *testing.T) {
	p := newTestProcess(t, "/nonexistent/command/that/does/not/exist")
	if err := p.Start(); err == nil {
		t.Fatal("expected start error")
	}
	select {
	case <-p.Done():
	default:
		t.Error("Done should be closed after a failed start")
	}
	if info := p.Info(); info.State != StateError || info.LastError == nil {
		t.Errorf("unexpected info after failed start: %+v", info)
	}
}

func TestSignalsBeforeStartAndAfterExit(t *testing.T) {
	p := newTestProcess(t, "true")
	p.Interrupt()
	p.Kill()

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p, time.Second)
	p.Interrupt()
	p.Kill()
}

func TestStdoutReader(t *testing.T) {
	p := newTestProcess(t, `sh -c "printf 'abc\000def'"`)

	var got bytes.Buffer
	p.SetStdoutReader(func(r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p, time.Second)

	if want := "abc\x00def"; got.String() != want {
		t.Errorf("stdout = %q, want %q", got.String(), want)
	}
}

func TestStdoutReaderEarlyReturnDrains(t *testing.T) {
	p := newTestProcess(t, `sh -c "head -c 1000000 /dev/zero"`)
	p.SetStdoutReader(func(r io.Reader) error {
		_, err := io.ReadFull(r, make([]byte, 10))
		return err
	})

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if code := waitDone(t, p, 2*time.Second); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if err := p.ReadError(); err != nil {
		t.Errorf("ReadError = %v", err)
	}
}

func TestOutputHandler(t *testing.T) {
	h := &testOutputHandler{}
	p := newTestProcess(t, `sh -c "echo line1; echo line2 >&2"`)
	p.SetOutputHandler(h)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p, time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", h.lines)
	}
	sources := map[string]string{}
	for _, l := range h.lines {
		sources[l[1]] = l[0]
	}
	if sources["line1"] != "stdout" || sources["line2"] != "stderr" {
		t.Errorf("unexpected sources: %v", sources)
	}
}

func TestLogParserLevels(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	parser := func(line string) (string, string) {
		mu.Lock()
		seen[line] = true
		mu.Unlock()
		if len(line) > 0 && line[0] == 'E' {
			return "error", line[1:]
		}
		return "info", line
	}

	p := newTestProcess(t, `sh -c "echo Eboom; echo plain"`)
	p.SetLogParser(testLogger(), parser)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if !seen["Eboom"] || !seen["plain"] {
		t.Errorf("parser did not see every line: %v", seen)
	}
}

func TestSetEnv(t *testing.T) {
	p := newTestProcess(t, `sh -c "printf %s \"$RETURNFEED_TEST\""`)
	p.SetEnv("RETURNFEED_TEST=hello")

	var got bytes.Buffer
	p.SetStdoutReader(func(r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p, time.Second)
	if got.String() != "hello" {
		t.Errorf("env not passed, got %q", got.String())
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{`echo hello\ world`, []string{"echo", "hello world"}, false},
		{`ffmpeg -i "rtsp://cam/a b" -f rawvideo`, []string{"ffmpeg", "-i", "rtsp://cam/a b", "-f", "rawvideo"}, false},
		{`sh -c 'echo "x"'`, []string{"sh", "-c", `echo "x"`}, false},
		{"  a\tb  ", []string{"a", "b"}, false},
		{`sh -c "printf 'abc\000def'"`, []string{"sh", "-c", `printf 'abc\000def'`}, false},
		{`printf 'a\nb'`, []string{"printf", `a\nb`}, false},
		{`echo "a \"q\" \\ \$HOME"`, []string{"echo", `a "q" \ $HOME`}, false},
		{`run "" x`, []string{"run", "", "x"}, false},
		{`echo "unclosed`, nil, true},
		{`echo 'unclosed`, nil, true},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, err := SplitCommand(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitCommand(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("SplitCommand(%q) = %q, want %q", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitCommand(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNewProcessFromCommandEmpty(t *testing.T) {
	if _, err := NewProcessFromCommand("x", "   ", testLogger()); err == nil {
		t.Error("expected error for empty command")
	}
}

type testOutputHandler struct {
	mu    sync.Mutex
	lines [][2]string
}

func (h *testOutputHandler) HandleLine(source, line string) {
	h.mu.Lock()
	h.lines = append(h.lines, [2]string{source, line})
	h.mu.Unlock()
}
