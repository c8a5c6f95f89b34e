package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/config"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/framechan"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/pipeline"
	"github.com/smazurov/returnfeed/internal/timing"
	"github.com/smazurov/returnfeed/internal/wire"
	"github.com/spf13/cobra"
)

// workerOptions are the child's settings. Flags come from the parent; the
// receiver block is read from the shared config file.
type workerOptions struct {
	Config string

	Name            string
	Address         string
	Quality         string
	TimingBaseMs    int
	TimingMaxMs     int
	ChannelCapacity int

	CaptureBinary string `toml:"capture.ffmpeg_binary" env:"CAPTURE_FFMPEG_BINARY"`
	FullWidth     int    `toml:"capture.full_width" env:"CAPTURE_FULL_WIDTH"`
	FullHeight    int    `toml:"capture.full_height" env:"CAPTURE_FULL_HEIGHT"`
	ProxyWidth    int    `toml:"capture.proxy_width" env:"CAPTURE_PROXY_WIDTH"`
	ProxyHeight   int    `toml:"capture.proxy_height" env:"CAPTURE_PROXY_HEIGHT"`
}

func (o workerOptions) receiverConfig() capture.ReceiverConfig {
	cfg := capture.DefaultReceiverConfig()
	if o.CaptureBinary != "" {
		cfg.FFmpegBinary = o.CaptureBinary
	}
	if o.FullWidth > 0 && o.FullHeight > 0 {
		cfg.FullWidth, cfg.FullHeight = o.FullWidth, o.FullHeight
	}
	if o.ProxyWidth > 0 && o.ProxyHeight > 0 {
		cfg.ProxyWidth, cfg.ProxyHeight = o.ProxyWidth, o.ProxyHeight
	}
	return cfg
}

func (o workerOptions) timingConfig() timing.Config {
	cfg := timing.DefaultConfig()
	if o.TimingBaseMs > 0 {
		cfg.Base = time.Duration(o.TimingBaseMs) * time.Millisecond
	}
	if o.TimingMaxMs > 0 {
		cfg.Max = time.Duration(o.TimingMaxMs) * time.Millisecond
	}
	return cfg
}

// CreateWorkerCmd creates the hidden worker command run by the process executor.
func CreateWorkerCmd() *cobra.Command {
	opts := workerOptions{Quality: string(frame.QualityFull)}

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one capture worker, streaming frames on stdout",
		Long:   `Connects to a single source and writes frame and status records to stdout. Logs go to stderr. Started by the pipeline when pipeline.execution is "process".`,
		Hidden: true,
		Args:   cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			if err := config.LoadConfig(&opts, c); err != nil {
				fmt.Fprintln(os.Stderr, "worker config:", err)
				os.Exit(1)
			}
			// The parent parses level= out of text lines; stdout carries frames.
			lc := config.LoadLoggingConfig(opts.Config)
			lc.Format, lc.Output = "text", "stderr"
			logging.Initialize(lc)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			code := runWorker(ctx, opts, os.Stdout, logging.GetLogger("worker"))
			stop()
			os.Exit(code)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Source name")
	cmd.Flags().StringVar(&opts.Address, "address", "", "Source address")
	cmd.Flags().StringVar(&opts.Quality, "quality", opts.Quality, "Receive quality (full, proxy)")
	cmd.Flags().IntVar(&opts.TimingBaseMs, "timing-base-ms", 0, "Base capture timeout in milliseconds")
	cmd.Flags().IntVar(&opts.TimingMaxMs, "timing-max-ms", 0, "Maximum capture timeout in milliseconds")
	cmd.Flags().IntVar(&opts.ChannelCapacity, "channel-capacity", pipeline.DefaultProcessCapacity, "Frames queued ahead of stdout")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

// wireSink forwards worker statuses to the parent. Frame-ready statuses
// are dropped because the frame records carry the sequence number.
type wireSink struct {
	enc    *wire.Encoder
	logger *slog.Logger
}

func (s wireSink) Report(st capture.Status) {
	if st.Kind == capture.StatusFrameReady {
		return
	}
	if err := s.enc.WriteStatus(st); err != nil {
		s.logger.Debug("Failed to write status", "kind", st.Kind, "error", err)
	}
}

// runWorker captures from one source until it is lost, ctx is cancelled or
// stdout breaks, and returns the process exit code.
func runWorker(ctx context.Context, opts workerOptions, out io.Writer, logger *slog.Logger) int {
	q, err := frame.ParseQuality(opts.Quality)
	if err != nil {
		logger.Error("Invalid quality", "error", err)
		return 1
	}
	src := frame.SourceHandle{Name: opts.Name, Address: opts.Address}
	if src.Name == "" {
		src.Name = src.Address
	}
	logger = logger.With("source", src.Name)

	enc := wire.NewEncoder(out)
	sink := wireSink{enc: enc, logger: logger}

	rcfg := opts.receiverConfig()
	rcfg.Logger = logger
	recv, err := capture.NewReceiver(src.Address, rcfg)
	if err != nil {
		logger.Error("No receiver for source", "error", err)
		sink.Report(capture.Status{Kind: capture.StatusError, Source: src, ErrorKind: events.ErrorKindConnect, Message: err.Error()})
		return pipeline.ExitConnectFailed
	}

	pctx := capture.NewContext(logger)
	pctx.Init()
	defer pctx.Shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := framechan.New(opts.ChannelCapacity)
	w := capture.NewWorker(pctx, recv, ch,
		capture.WithTiming(timing.New(opts.timingConfig())),
		capture.WithStatusSink(sink),
		capture.WithLogger(logger),
	)
	if err := w.Connect(ctx, src, q); err != nil {
		return pipeline.ExitConnectFailed
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			f, ok := ch.Pop(50 * time.Millisecond)
			if !ok {
				if ch.Closed() {
					return
				}
				continue
			}
			if err := enc.WriteFrame(f); err != nil {
				// The parent closed the pipe; nothing left to serve.
				logger.Warn("Frame output closed", "error", err)
				cancel()
				return
			}
		}
	}()

	runErr := w.RunLoop(ctx)
	ch.Close()
	wg.Wait()

	stats := w.Stats()
	logger.Info("Worker finished", "frames", stats.Frames, "misses", stats.Misses, "format_errors", stats.FormatErrors)

	switch {
	case runErr == nil, errors.Is(runErr, frame.ErrSourceGone):
		return 0
	default:
		logger.Error("Worker loop failed", "error", runErr)
		return 1
	}
}
