package ffmpeg

import (
	"slices"
	"strings"
	"testing"

	"github.com/smazurov/returnfeed/internal/process"
)

func TestBuildCaptureArgs(t *testing.T) {
	args, err := BuildCaptureArgs(CaptureParams{
		Input:    "srt://studio:9000",
		Options:  []OptionType{OptionLowLatency, OptionGeneratePTS},
		PixFmt:   PixFmtUYVY,
		Width:    1920,
		Height:   1080,
		Progress: true,
	})
	if err != nil {
		t.Fatalf("BuildCaptureArgs failed: %v", err)
	}

	cmd := strings.Join(args, " ")
	for _, want := range []string{
		"ffmpeg -hide_banner",
		"-flags low_delay -fflags +nobuffer+genpts",
		"-i srt://studio:9000",
		"-vf scale=1920:1080:flags=bilinear",
		"-pix_fmt uyvy422 -f rawvideo pipe:1",
		"-progress pipe:2",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command %q missing %q", cmd, want)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output must be stdout, got %q", args[len(args)-1])
	}
}

func TestBuildCaptureArgsInputOrder(t *testing.T) {
	args, err := BuildCaptureArgs(CaptureParams{
		Binary:      "/usr/bin/ffmpeg",
		Input:       "testsrc2=size=640x360",
		InputFormat: "lavfi",
		ExtraArgs:   []string{"-probesize", "32"},
		PixFmt:      PixFmtNV12,
		Width:       640,
		Height:      360,
		FPS:         "60000/1001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if args[0] != "/usr/bin/ffmpeg" {
		t.Errorf("binary = %q", args[0])
	}

	input := slices.Index(args, "-i")
	format := slices.Index(args, "lavfi")
	extra := slices.Index(args, "-probesize")
	rate := slices.Index(args, "-r")
	if format >= input || extra >= input || rate <= input {
		t.Errorf("unexpected argument order: %v", args)
	}
}

func TestCaptureParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  CaptureParams
		wantErr bool
	}{
		{"valid", CaptureParams{Input: "x", PixFmt: PixFmtUYVY, Width: 1, Height: 1}, false},
		{"no input", CaptureParams{PixFmt: PixFmtUYVY, Width: 2, Height: 2}, true},
		{"zero size", CaptureParams{Input: "x", PixFmt: PixFmtUYVY}, true},
		{"odd nv12", CaptureParams{Input: "x", PixFmt: PixFmtNV12, Width: 641, Height: 360}, true},
		{"bad pixfmt", CaptureParams{Input: "x", PixFmt: "rgb24", Width: 2, Height: 2}, true},
		{"conflicting options", CaptureParams{
			Input: "x", PixFmt: PixFmtUYVY, Width: 2, Height: 2,
			Options: []OptionType{OptionThreadQueue1024, OptionThreadQueue4096},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	if got := (CaptureParams{PixFmt: PixFmtUYVY, Width: 1920, Height: 1080}).FrameSize(); got != 1920*1080*2 {
		t.Errorf("uyvy frame size = %d", got)
	}
	if got := (CaptureParams{PixFmt: PixFmtNV12, Width: 640, Height: 360}).FrameSize(); got != 640*360*3/2 {
		t.Errorf("nv12 frame size = %d", got)
	}
}

func TestBuildCaptureCommandQuotes(t *testing.T) {
	cmd, err := BuildCaptureCommand(CaptureParams{
		Input:  "/media/studio feed.ts",
		PixFmt: PixFmtUYVY,
		Width:  2,
		Height: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cmd, `"/media/studio feed.ts"`) {
		t.Errorf("input not quoted: %s", cmd)
	}
}

func TestBuildCaptureCommandSplitsBack(t *testing.T) {
	p := CaptureParams{
		Input:  `/media/it's "live" \ $feed.ts`,
		PixFmt: PixFmtUYVY,
		Width:  2,
		Height: 2,
	}
	args, err := BuildCaptureArgs(p)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := BuildCaptureCommand(p)
	if err != nil {
		t.Fatal(err)
	}
	got, err := process.SplitCommand(cmd)
	if err != nil {
		t.Fatalf("SplitCommand(%q): %v", cmd, err)
	}
	if !slices.Equal(got, args) {
		t.Errorf("round trip = %q, want %q", got, args)
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]string{"low_latency", " rtsp_tcp ", ""})
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if len(opts) != 2 || opts[1] != OptionRTSPOverTCP {
		t.Errorf("ParseOptions = %v", opts)
	}

	if _, err := ParseOptions([]string{"bogus"}); err == nil {
		t.Error("expected error for unknown option")
	}
	if _, err := ParseOptions([]string{"genpts", "wallclock_ts"}); err == nil {
		t.Error("expected conflict error")
	}
}

func TestGetDefaultOptions(t *testing.T) {
	defaults := GetDefaultOptions()
	if err := ValidateOptions(defaults); err != nil {
		t.Errorf("default options must be valid: %v", err)
	}
	if !slices.Contains(defaults, OptionLowLatency) {
		t.Errorf("low latency should be a default, got %v", defaults)
	}
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[warning] Past duration too large", "warning", "Past duration too large"},
		{"[h264 @ 0x55d] [error] concealing errors", "error", "[h264 @ 0x55d] concealing errors"},
		{"[tcp @ 0x7f] Connection refused", "error", "[tcp @ 0x7f] Connection refused"},
		{"srt://studio:9000: Input/output error", "error", "srt://studio:9000: Input/output error"},
		{"plain line", "info", "plain line"},
		{"[notalevel] x", "info", "[notalevel] x"},
		{"[", "info", "["},
	}
	for _, tt := range tests {
		level, msg := ClassifyLine(tt.line)
		if level != tt.wantLevel || msg != tt.wantMsg {
			t.Errorf("ClassifyLine(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
		}
	}
}
