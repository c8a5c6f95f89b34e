package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/returnfeed/cmd"
	"github.com/smazurov/returnfeed/internal/api"
	"github.com/smazurov/returnfeed/internal/config"
	"github.com/smazurov/returnfeed/internal/discovery"
	"github.com/smazurov/returnfeed/internal/display"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/metrics"
	"github.com/smazurov/returnfeed/internal/pipeline"
	"github.com/smazurov/returnfeed/internal/process"
	"github.com/smazurov/returnfeed/internal/version"
	"github.com/spf13/cobra"
)

// Options for the CLI - flat structure with toml mapping.
// Durations are plain millisecond ints so every value is settable from a flag.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Source directory
	SourcesFile          string `help:"Source directory file" default:"sources.toml" toml:"sources.file" env:"SOURCES_FILE"`
	SourcesWatchDebounce int    `help:"Debounce for source file reloads in milliseconds" default:"200" toml:"sources.watch_debounce_ms" env:"SOURCES_WATCH_DEBOUNCE_MS"`

	// Pipeline settings
	PipelineExecution       string `help:"Worker execution context (goroutine, process)" default:"goroutine" toml:"pipeline.execution" env:"PIPELINE_EXECUTION"`
	PipelineQuality         string `help:"Receive quality (full, proxy)" default:"full" toml:"pipeline.quality" env:"PIPELINE_QUALITY"`
	PipelineChannelCapacity int    `help:"Frame channel capacity (0 picks per execution context)" default:"0" toml:"pipeline.channel_capacity" env:"PIPELINE_CHANNEL_CAPACITY"`
	PipelineAutoReconnect   bool   `help:"Reconnect when the source is lost" default:"true" toml:"pipeline.auto_reconnect" env:"PIPELINE_AUTO_RECONNECT"`
	PipelineStopGraceMs     int    `help:"Grace period before a worker is killed, in milliseconds" default:"2000" toml:"pipeline.stop_grace_ms" env:"PIPELINE_STOP_GRACE_MS"`
	PipelineDefaultSource   string `help:"Source name or address to connect at startup" default:"" toml:"pipeline.default_source" env:"PIPELINE_DEFAULT_SOURCE"`
	PipelineRetryDelayMs    int    `help:"First reconnect delay in milliseconds" default:"1000" toml:"pipeline.retry_delay_ms" env:"PIPELINE_RETRY_DELAY_MS"`
	PipelineMaxRetryDelayMs int    `help:"Reconnect delay cap in milliseconds" default:"30000" toml:"pipeline.max_retry_delay_ms" env:"PIPELINE_MAX_RETRY_DELAY_MS"`
	PipelineMaxRetries      int    `help:"Reconnect attempts before giving up (0 retries forever)" default:"0" toml:"pipeline.max_retries" env:"PIPELINE_MAX_RETRIES"`
	PipelineWorkerCommand   string `help:"Command that runs the worker binary in process mode, such as nice -n 5 returnfeed (empty runs this binary)" default:"" toml:"pipeline.worker_command" env:"PIPELINE_WORKER_COMMAND"`

	// Capture timeout controller
	TimingBaseMs int `help:"Base capture timeout in milliseconds" default:"25" toml:"timing.base_ms" env:"TIMING_BASE_MS"`
	TimingMaxMs  int `help:"Maximum capture timeout in milliseconds" default:"100" toml:"timing.max_ms" env:"TIMING_MAX_MS"`

	// Presentation
	PacingWarmupFrames int `help:"Intervals sampled before the cadence locks" default:"30" toml:"pacing.warmup_frames" env:"PACING_WARMUP_FRAMES"`
	PacingMaxRepeats   int `help:"Times the last frame is repeated during a gap; it then stays on screen until a fresh frame" default:"30" toml:"pacing.max_repeats" env:"PACING_MAX_REPEATS"`

	// Capture receiver
	CaptureFFmpegBinary string `help:"ffmpeg binary used for network sources" default:"ffmpeg" toml:"capture.ffmpeg_binary" env:"CAPTURE_FFMPEG_BINARY"`
	CaptureFullWidth    int    `help:"Full quality width" default:"1920" toml:"capture.full_width" env:"CAPTURE_FULL_WIDTH"`
	CaptureFullHeight   int    `help:"Full quality height" default:"1080" toml:"capture.full_height" env:"CAPTURE_FULL_HEIGHT"`
	CaptureProxyWidth   int    `help:"Proxy quality width" default:"640" toml:"capture.proxy_width" env:"CAPTURE_PROXY_WIDTH"`
	CaptureProxyHeight  int    `help:"Proxy quality height" default:"360" toml:"capture.proxy_height" env:"CAPTURE_PROXY_HEIGHT"`

	// Display settings
	DisplayJPEGQuality      int `help:"Snapshot JPEG quality (1-100)" default:"85" toml:"display.jpeg_quality" env:"DISPLAY_JPEG_QUALITY"`
	DisplayFrameEventMs     int `help:"Minimum spacing of frame-ready events in milliseconds" default:"100" toml:"display.frame_event_interval_ms" env:"DISPLAY_FRAME_EVENT_INTERVAL_MS"`
	DisplayFPSReportEveryMs int `help:"Presentation rate publish interval in milliseconds" default:"1000" toml:"display.fps_report_interval_ms" env:"DISPLAY_FPS_REPORT_INTERVAL_MS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture   string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingPipeline  string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingPacing    string `help:"Pacing logging level" default:"info" toml:"logging.pacing" env:"LOGGING_PACING"`
	LoggingDiscovery string `help:"Discovery logging level" default:"info" toml:"logging.discovery" env:"LOGGING_DISCOVERY"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func pipelineConfig(opts *Options) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()

	exec, err := pipeline.ParseExecution(opts.PipelineExecution)
	if err != nil {
		return cfg, err
	}
	q, err := frame.ParseQuality(opts.PipelineQuality)
	if err != nil {
		return cfg, err
	}

	cfg.Execution = exec
	cfg.Quality = q
	cfg.ChannelCapacity = opts.PipelineChannelCapacity
	cfg.AutoReconnect = opts.PipelineAutoReconnect
	cfg.StopGrace = ms(opts.PipelineStopGraceMs)
	cfg.Reconnect = pipeline.ReconnectConfig{
		RetryDelay:    ms(opts.PipelineRetryDelayMs),
		MaxRetryDelay: ms(opts.PipelineMaxRetryDelayMs),
		MaxRetries:    opts.PipelineMaxRetries,
	}
	if opts.TimingBaseMs > 0 {
		cfg.Timing.Base = ms(opts.TimingBaseMs)
	}
	if opts.TimingMaxMs > 0 {
		cfg.Timing.Max = ms(opts.TimingMaxMs)
	}
	cfg.WarmupFrames = opts.PacingWarmupFrames
	cfg.MaxRepeats = opts.PacingMaxRepeats
	cfg.ReportInterval = ms(opts.DisplayFPSReportEveryMs)

	cfg.Receiver.FFmpegBinary = opts.CaptureFFmpegBinary
	cfg.Receiver.FullWidth, cfg.Receiver.FullHeight = opts.CaptureFullWidth, opts.CaptureFullHeight
	cfg.Receiver.ProxyWidth, cfg.Receiver.ProxyHeight = opts.CaptureProxyWidth, opts.CaptureProxyHeight
	cfg.Receiver.Logger = logging.GetLogger("capture")

	if opts.PipelineWorkerCommand != "" {
		argv, err := process.SplitCommand(opts.PipelineWorkerCommand)
		if err != nil {
			return cfg, fmt.Errorf("pipeline.worker_command: %w", err)
		}
		if len(argv) > 0 {
			cfg.Worker.Binary, cfg.Worker.Args = argv[0], argv[1:]
		}
	}
	cfg.Worker.Config = opts.Config
	return cfg, nil
}

// resolveSource looks name up in the directory and falls back to treating
// it as an address.
func resolveSource(dir discovery.Directory, name string) frame.SourceHandle {
	if src, err := dir.Find(name); err == nil {
		return src
	}
	return frame.SourceHandle{Name: name, Address: name}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture":   opts.LoggingCapture,
				"pipeline":  opts.LoggingPipeline,
				"pacing":    opts.LoggingPacing,
				"discovery": opts.LoggingDiscovery,
				"api":       opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")
		logger.Info("Starting", "version", version.Get().Version, "execution", opts.PipelineExecution)

		// Create event bus for in-process event handling
		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEvent(entry))
		})

		directory, err := discovery.NewTOMLDirectory(opts.SourcesFile, eventBus)
		if err != nil {
			logger.Error("Failed to load sources", "file", opts.SourcesFile, "error", err)
			os.Exit(1)
		}

		snapshot := display.NewSnapshot(opts.DisplayJPEGQuality)
		out := display.NewPublisher(snapshot, eventBus, ms(opts.DisplayFrameEventMs))

		pcfg, err := pipelineConfig(opts)
		if err != nil {
			logger.Error("Invalid pipeline configuration", "error", err)
			os.Exit(1)
		}
		pl, err := pipeline.New(pcfg, out, eventBus, pipeline.WithLogger(logging.GetLogger("pipeline")))
		if err != nil {
			logger.Error("Failed to create pipeline", "error", err)
			os.Exit(1)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Pipeline:          pl,
			Directory:         directory,
			Snapshot:          snapshot,
			EventBus:          eventBus,
			PrometheusHandler: metrics.Handler(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan struct{})

		hooks.OnStart(func() {
			if watchErr := directory.Watch(ctx, ms(opts.SourcesWatchDebounce)); watchErr != nil {
				logger.Warn("Source file watch disabled", "file", directory.Path(), "error", watchErr)
			}

			go func() {
				defer close(runDone)
				if runErr := pl.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Error("Pipeline stopped", "error", runErr)
				}
			}()

			if opts.PipelineDefaultSource != "" {
				src := resolveSource(directory, opts.PipelineDefaultSource)
				connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
				if connErr := pl.Connect(connectCtx, src, pcfg.Quality); connErr != nil {
					// Auto-reconnect keeps trying in the background.
					logger.Warn("Default source not connected", "source", src.Name, "error", connErr)
				}
				connectCancel()
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Stop the worker after the HTTP server stops accepting requests
			cancel()
			select {
			case <-runDone:
			case <-time.After(pcfg.StopGrace + time.Second):
				logger.Warn("Pipeline did not stop in time")
			}

			if closeErr := directory.Close(); closeErr != nil {
				logger.Warn("Error closing source watcher", "error", closeErr)
			}
		})
	})

	root := cli.Root()
	root.Use = "returnfeed"
	root.Short = "Low-latency return feed monitor"
	root.Version = version.Get().String()
	root.SetVersionTemplate("{{.Version}}\n")

	// Subcommands skip the server setup above.
	skipServer := func(*cobra.Command, []string) {}
	for _, sub := range []*cobra.Command{cmd.CreateWorkerCmd(), cmd.CreateConvertCmd(), cmd.CreateSourcesCmd()} {
		sub.PersistentPreRun = skipServer
		root.AddCommand(sub)
	}

	// Run the CLI
	cli.Run()
}
