package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/returnfeed/internal/ffmpeg"
	"github.com/smazurov/returnfeed/internal/frame"
)

// fakeFFmpeg writes a script that ignores its arguments and runs body.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testReceiverConfig(binary string) ReceiverConfig {
	cfg := DefaultReceiverConfig()
	cfg.FFmpegBinary = binary
	cfg.FullWidth, cfg.FullHeight = 4, 2
	cfg.ProxyWidth, cfg.ProxyHeight = 4, 2
	cfg.Logger = discardLogger()
	return cfg
}

func TestFFmpegReceiverReadsFrames(t *testing.T) {
	// Three 4x2 UYVY frames, then exit.
	bin := fakeFFmpeg(t, "head -c 48 /dev/zero")
	r := NewFFmpegReceiver(testReceiverConfig(bin))

	if err := r.Open(context.Background(), studio, frame.QualityFull); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()

	frames := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c := r.Capture(100 * time.Millisecond)
		if c.Kind == KindNone {
			continue
		}
		if c.Kind == KindError {
			if !errors.Is(c.Err, frame.ErrSourceGone) {
				t.Errorf("end of output error = %v, want ErrSourceGone", c.Err)
			}
			break
		}
		if c.Frame.Format != frame.PackedYUV422 || len(c.Frame.Data) != 16 {
			t.Errorf("frame format=%s len=%d", c.Frame.Format, len(c.Frame.Data))
		}
		if err := c.Release(); err != nil {
			t.Errorf("Release: %v", err)
		}
		frames++
	}
	if frames != 3 {
		t.Errorf("frames = %d, want 3", frames)
	}
}

func TestFFmpegReceiverProxyArgs(t *testing.T) {
	bin := fakeFFmpeg(t, "exec sleep 10")
	r := NewFFmpegReceiver(testReceiverConfig(bin))

	if err := r.Open(context.Background(), studio, frame.QualityProxy); err != nil {
		t.Fatal(err)
	}

	p := r.Params()
	if p.PixFmt != ffmpeg.PixFmtNV12 || p.Input != studio.Address {
		t.Errorf("proxy params = %+v", p)
	}
	if c := r.Capture(20 * time.Millisecond); c.Kind != KindNone {
		t.Errorf("silent ffmpeg capture kind = %s, want none", c.Kind)
	}

	start := time.Now()
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Close took too long")
	}
	if c := r.Capture(20 * time.Millisecond); c.Kind != KindError {
		t.Errorf("capture after Close kind = %s, want error", c.Kind)
	}
}

func TestFFmpegReceiverMissingBinary(t *testing.T) {
	r := NewFFmpegReceiver(testReceiverConfig(filepath.Join(t.TempDir(), "missing")))
	if err := r.Open(context.Background(), studio, frame.QualityFull); err == nil {
		t.Error("expected error for missing ffmpeg binary")
	}
	_ = r.Close()
}

func TestParseFFmpegLine(t *testing.T) {
	if level, _ := parseFFmpegLine("fps=59.94"); level != "debug" {
		t.Errorf("progress line level = %q, want debug", level)
	}
	if level, _ := parseFFmpegLine("[error] Connection refused"); level != "error" {
		t.Errorf("error line level = %q", level)
	}
}
