// Package logging provides structured logging with per-module log levels.
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute:
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Connected", "source", src.Name)
//
// Each module owns a slog.LevelVar, so loggers obtained before Initialize
// pick up the configured level once it runs, and SetModuleLevel can change
// it while the process is live.
//
// Records fan out to the console (stdout, or stderr for worker children),
// the systemd journal when it is reachable, and an in-memory ring buffer
// that backs the /api/logs stream.
//
// When running under systemd:
//
//	journalctl -t returnfeed -f
//	journalctl -t returnfeed MODULE=capture
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	capture = "debug"
//	pacing = "warn"
package logging
