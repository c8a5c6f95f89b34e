package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/returnfeed/internal/ffmpeg"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics/collectors"
	"github.com/smazurov/returnfeed/internal/process"
)

// ffmpegStopGrace bounds how long Close waits for ffmpeg after SIGINT.
const ffmpegStopGrace = time.Second

// FFmpegReceiver captures from any ffmpeg-readable input. ffmpeg decodes and
// scales the source and writes raw frames to stdout, which are read into
// pooled buffers of one frame each.
type FFmpegReceiver struct {
	cfg    ReceiverConfig
	logger *slog.Logger

	mu        sync.Mutex
	proc      *process.Process
	collector *collectors.FFmpegCollector
	params    ffmpeg.CaptureParams
	format    frame.FormatTag
	fourcc    string

	pool   sync.Pool
	frames chan *frame.RawFrame
	eof    chan struct{}
	stop   chan struct{}

	stopOnce sync.Once
	opened   bool
}

// NewFFmpegReceiver creates an unopened ffmpeg receiver.
func NewFFmpegReceiver(cfg ReceiverConfig) *FFmpegReceiver {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("ffmpeg")
	}
	return &FFmpegReceiver{
		cfg:    cfg,
		logger: logger,
		frames: make(chan *frame.RawFrame, 1),
		eof:    make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Params returns the capture parameters chosen at Open.
func (r *FFmpegReceiver) Params() ffmpeg.CaptureParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// Open starts ffmpeg for the source address. Full quality asks for UYVY at
// the configured full size, proxy for NV12 at the proxy size.
func (r *FFmpegReceiver) Open(_ context.Context, src frame.SourceHandle, q frame.Quality) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return fmt.Errorf("ffmpeg receiver already opened")
	}

	params := ffmpeg.CaptureParams{
		Binary:   r.cfg.FFmpegBinary,
		Input:    src.Address,
		Options:  r.cfg.FFmpegOptions,
		Progress: true,
	}
	if q == frame.QualityProxy {
		params.PixFmt = ffmpeg.PixFmtNV12
		params.Width, params.Height = r.cfg.ProxyWidth, r.cfg.ProxyHeight
		r.format, r.fourcc = frame.PlanarNV12, "NV12"
	} else {
		params.PixFmt = ffmpeg.PixFmtUYVY
		params.Width, params.Height = r.cfg.FullWidth, r.cfg.FullHeight
		r.format, r.fourcc = frame.PackedYUV422, "UYVY"
	}

	args, err := ffmpeg.BuildCaptureArgs(params)
	if err != nil {
		return err
	}
	size := params.FrameSize()
	r.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	r.params = params

	name := src.Name
	if name == "" {
		name = src.Address
	}
	r.collector = collectors.NewFFmpegCollector(name)

	proc := process.NewProcess("ffmpeg-"+uuid.NewString()[:8], args, r.logger)
	proc.SetLogParser(r.logger.With("source", name), parseFFmpegLine)
	proc.SetOutputHandler(r.collector)
	proc.SetStdoutReader(r.readFrames)
	proc.SetGracefulTimeout(ffmpegStopGrace)

	r.logger.Debug("Starting ffmpeg", "source", name, "args", args)
	if err := proc.Start(); err != nil {
		r.collector.Stop()
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	r.proc = proc
	r.opened = true
	return nil
}

// parseFFmpegLine demotes -progress key=value lines to debug.
func parseFFmpegLine(line string) (level, msg string) {
	if collectors.IsProgressLine(line) {
		return "debug", line
	}
	return ffmpeg.ClassifyLine(line)
}

// readFrames runs on the process stdout until EOF or Close.
func (r *FFmpegReceiver) readFrames(rd io.Reader) error {
	defer close(r.eof)

	r.mu.Lock()
	params, format, fourcc := r.params, r.format, r.fourcc
	r.mu.Unlock()

	for {
		bufp := r.pool.Get().(*[]byte)
		if _, err := io.ReadFull(rd, *bufp); err != nil {
			r.pool.Put(bufp)
			return err
		}

		f := frame.NewRawFrame(*bufp, params.Width, params.Height, 0, format, func() error {
			r.pool.Put(bufp)
			return nil
		})
		f.FourCC = fourcc

		select {
		case r.frames <- f:
		case <-r.stop:
			_ = f.Release()
			return nil
		}
	}
}

// Capture returns the next frame read from ffmpeg, None after timeout, or
// the source gone once ffmpeg's output has ended.
func (r *FFmpegReceiver) Capture(timeout time.Duration) Capture {
	select {
	case f := <-r.frames:
		return Video(f)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-r.frames:
		return Video(f)
	case <-r.eof:
		select {
		case f := <-r.frames:
			return Video(f)
		default:
		}
		return Failed(r.exitError())
	case <-r.stop:
		return Failed(frame.ErrSourceGone)
	case <-timer.C:
		return None()
	}
}

func (r *FFmpegReceiver) exitError() error {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	if proc == nil {
		return frame.ErrSourceGone
	}
	if err := proc.ReadError(); err != nil {
		return fmt.Errorf("ffmpeg output: %w: %w", err, frame.ErrSourceGone)
	}
	return fmt.Errorf("ffmpeg output ended: %w", frame.ErrSourceGone)
}

// Close stops ffmpeg and drops any frame still queued.
func (r *FFmpegReceiver) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	proc, collector := r.proc, r.collector
	r.mu.Unlock()

	if proc != nil {
		code := proc.Terminate()
		r.logger.Debug("ffmpeg stopped", "id", proc.ID(), "exit_code", code)
	}
	if collector != nil {
		collector.Stop()
	}

	for {
		select {
		case f := <-r.frames:
			_ = f.Release()
		default:
			return nil
		}
	}
}
