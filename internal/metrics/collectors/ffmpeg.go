// Package collectors feeds subprocess output into the metrics package.
package collectors

import (
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/returnfeed/internal/metrics"
)

// progressKeys are the keys ffmpeg emits with -progress.
var progressKeys = map[string]bool{
	"frame": true, "fps": true, "stream_0_0_q": true, "bitrate": true,
	"total_size": true, "out_time_us": true, "out_time_ms": true, "out_time": true,
	"dup_frames": true, "drop_frames": true, "speed": true, "progress": true,
}

// FFmpegCollector parses ffmpeg -progress output from the receiver's
// stderr. It implements process.OutputHandler.
type FFmpegCollector struct {
	source string

	mu      sync.Mutex
	pending map[string]string
	stopped bool
}

// NewFFmpegCollector creates a collector reporting under the given source label.
func NewFFmpegCollector(source string) *FFmpegCollector {
	return &FFmpegCollector{
		source:  source,
		pending: make(map[string]string),
	}
}

// IsProgressLine reports whether line is part of a -progress block.
func IsProgressLine(line string) bool {
	key, _, ok := strings.Cut(strings.TrimSpace(line), "=")
	return ok && progressKeys[key]
}

// HandleLine accumulates key=value pairs and publishes them on each
// progress= terminator.
func (f *FFmpegCollector) HandleLine(_, line string) {
	if !IsProgressLine(line) {
		return
	}
	key, value, _ := strings.Cut(strings.TrimSpace(line), "=")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.pending[key] = strings.TrimSpace(value)
	if key == "progress" {
		f.publish(f.pending)
		f.pending = make(map[string]string)
	}
}

// Stop removes the source's metrics. Later lines are ignored.
func (f *FFmpegCollector) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	metrics.DeleteFFmpegMetrics(f.source)
}

func (f *FFmpegCollector) publish(data map[string]string) {
	if fps, err := strconv.ParseFloat(data["fps"], 64); err == nil {
		metrics.SetFFmpegFPS(f.source, fps)
	}
	if dropped, err := strconv.ParseFloat(data["drop_frames"], 64); err == nil {
		metrics.SetFFmpegDroppedFrames(f.source, dropped)
	}
	if dup, err := strconv.ParseFloat(data["dup_frames"], 64); err == nil {
		metrics.SetFFmpegDuplicateFrames(f.source, dup)
	}
	speed := strings.TrimSpace(strings.TrimSuffix(data["speed"], "x"))
	if v, err := strconv.ParseFloat(speed, 64); err == nil {
		metrics.SetFFmpegSpeed(f.source, v)
	}
}
