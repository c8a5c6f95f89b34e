package pipeline

import "github.com/smazurov/returnfeed/internal/frame"

// Command is a request to the pipeline control loop.
type Command interface {
	command()
}

// Connect switches the pipeline to Source. Any current connection is
// stopped first.
type Connect struct {
	Source  frame.SourceHandle
	Quality frame.Quality

	reply chan error
}

// Disconnect stops the current connection and cancels pending retries.
type Disconnect struct {
	reply chan error
}

func (Connect) command()    {}
func (Disconnect) command() {}

func replyTo(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
