package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	framesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Video frames converted and queued for presentation",
	})

	captureMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "misses_total",
		Help:      "Capture calls that returned without a frame",
	})

	captureErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "errors_total",
		Help:      "Per-frame and per-connection failures by kind",
	}, []string{"kind"})

	captureTimeout = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "timeout_seconds",
		Help:      "Current adaptive capture timeout",
	})

	channelEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "evictions_total",
		Help:      "Frames dropped from the channel to keep latency bounded",
	})

	presentationFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presentation",
		Name:      "fps",
		Help:      "Frames handed to the display over the last second",
	})

	presentationRepeats = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "presentation",
		Name:      "repeats_total",
		Help:      "Frames re-shown to cover a capture gap",
	})

	cadenceInterval = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "presentation",
		Name:      "cadence_interval_seconds",
		Help:      "Locked source frame interval, 0 while warming up",
	})

	connected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "connected",
		Help:      "1 while a source connection is live",
	}, []string{"source"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "reconnects_total",
		Help:      "Automatic reconnect attempts after a lost or failed connection",
	})

	workerKills = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "worker_kills_total",
		Help:      "Workers forcibly terminated after missing the stop grace period",
	})
)

// IncFramesCaptured counts one converted frame.
func IncFramesCaptured() { framesCaptured.Inc() }

// IncCaptureMisses counts one empty capture.
func IncCaptureMisses() { captureMisses.Inc() }

// IncCaptureError counts one failure of the given kind.
func IncCaptureError(kind string) { captureErrors.WithLabelValues(kind).Inc() }

// SetCaptureTimeout records the adaptive timeout.
func SetCaptureTimeout(d time.Duration) { captureTimeout.Set(d.Seconds()) }

// IncChannelEvictions counts one evicted frame.
func IncChannelEvictions() { channelEvictions.Inc() }

// SetPresentationFPS records the displayed frame rate.
func SetPresentationFPS(fps float64) { presentationFPS.Set(fps) }

// IncPresentationRepeats counts one repeated frame.
func IncPresentationRepeats() { presentationRepeats.Inc() }

// SetCadenceInterval records the locked cadence, or 0 when unlocked.
func SetCadenceInterval(d time.Duration) { cadenceInterval.Set(d.Seconds()) }

// SetConnected flips the connection gauge for a source.
func SetConnected(source string, up bool) {
	if up {
		connected.WithLabelValues(source).Set(1)
		return
	}
	connected.DeleteLabelValues(source)
}

// IncReconnects counts one reconnect attempt.
func IncReconnects() { reconnects.Inc() }

// IncWorkerKills counts one forced worker termination.
func IncWorkerKills() { workerKills.Inc() }

// Handler returns the Prometheus scrape handler for all promauto-registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
