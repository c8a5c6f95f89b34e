// Package process runs subprocesses for the capture pipeline: ffmpeg
// receivers and isolated worker children.
//
// A Process wraps os/exec with:
//   - its own process group, so signals reach helpers the child spawned
//   - graceful shutdown with SIGINT, then SIGKILL after a timeout (exit code 137)
//   - stderr streamed line by line through a pluggable LogParser
//   - stdout either logged the same way or handed raw to a StdoutReader
//
// Example:
//
//	p := process.NewProcess("worker", []string{"returnfeed", "worker", "--address", addr}, logger)
//	p.SetLogParser(logging.GetLogger("worker"), nil)
//	p.SetStdoutReader(func(r io.Reader) error { return decode(r) })
//	if err := p.Start(); err != nil {
//	    return err
//	}
//	defer p.Terminate()
package process
