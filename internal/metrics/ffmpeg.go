// Package metrics provides Prometheus instruments for the capture pipeline
// and for ffmpeg receivers.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "returnfeed"

var (
	ffmpegFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "fps",
		Help:      "Decode rate reported by the ffmpeg receiver",
	}, []string{"source"})

	ffmpegDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by ffmpeg before reaching the pipe",
	}, []string{"source"})

	ffmpegDuplicateFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "duplicate_frames_total",
		Help:      "Frames duplicated by ffmpeg to hold the output rate",
	}, []string{"source"})

	ffmpegSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "processing_speed",
		Help:      "ffmpeg processing speed multiplier",
	}, []string{"source"})

	// Local cache for the status endpoint.
	ffmpegCache   = make(map[string]*FFmpegMetrics)
	ffmpegCacheMu sync.RWMutex
)

// FFmpegMetrics holds the latest progress values for one source.
type FFmpegMetrics struct {
	FPS             float64 `json:"fps"`
	DroppedFrames   float64 `json:"dropped_frames"`
	DuplicateFrames float64 `json:"duplicate_frames"`
	Speed           float64 `json:"speed"`
}

// SetFFmpegFPS sets the current decode rate for a source.
func SetFFmpegFPS(source string, fps float64) {
	ffmpegFPS.WithLabelValues(source).Set(fps)
	updateCache(source, func(m *FFmpegMetrics) { m.FPS = fps })
}

// SetFFmpegDroppedFrames sets the dropped frames count for a source.
func SetFFmpegDroppedFrames(source string, count float64) {
	ffmpegDroppedFrames.WithLabelValues(source).Set(count)
	updateCache(source, func(m *FFmpegMetrics) { m.DroppedFrames = count })
}

// SetFFmpegDuplicateFrames sets the duplicate frames count for a source.
func SetFFmpegDuplicateFrames(source string, count float64) {
	ffmpegDuplicateFrames.WithLabelValues(source).Set(count)
	updateCache(source, func(m *FFmpegMetrics) { m.DuplicateFrames = count })
}

// SetFFmpegSpeed sets the processing speed for a source.
func SetFFmpegSpeed(source string, speed float64) {
	ffmpegSpeed.WithLabelValues(source).Set(speed)
	updateCache(source, func(m *FFmpegMetrics) { m.Speed = speed })
}

// DeleteFFmpegMetrics removes all ffmpeg metrics for a source.
func DeleteFFmpegMetrics(source string) {
	ffmpegFPS.DeleteLabelValues(source)
	ffmpegDroppedFrames.DeleteLabelValues(source)
	ffmpegDuplicateFrames.DeleteLabelValues(source)
	ffmpegSpeed.DeleteLabelValues(source)

	ffmpegCacheMu.Lock()
	delete(ffmpegCache, source)
	ffmpegCacheMu.Unlock()
}

// GetFFmpegMetrics returns a copy of the current values for a source, or nil.
func GetFFmpegMetrics(source string) *FFmpegMetrics {
	ffmpegCacheMu.RLock()
	defer ffmpegCacheMu.RUnlock()
	if m, ok := ffmpegCache[source]; ok {
		dup := *m
		return &dup
	}
	return nil
}

func updateCache(source string, update func(*FFmpegMetrics)) {
	ffmpegCacheMu.Lock()
	defer ffmpegCacheMu.Unlock()
	m, ok := ffmpegCache[source]
	if !ok {
		m = &FFmpegMetrics{}
		ffmpegCache[source] = m
	}
	update(m)
}
