// Package capture pulls frames from a video source, converts them and
// queues them for presentation.
//
// A Receiver is the boundary to the native capture library. The Worker
// drives it: each iteration captures with the adaptive timeout, converts
// video frames to BGR, pushes them into the frame channel and releases the
// borrowed buffer before the next capture. A Context owns the set of live
// connections and guarantees at most one per source.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/smazurov/returnfeed/internal/ffmpeg"
	"github.com/smazurov/returnfeed/internal/frame"
)

// Kind classifies the result of one Capture call.
type Kind int

// Capture kinds.
const (
	KindNone Kind = iota
	KindVideo
	KindAudio
	KindMetadata
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindMetadata:
		return "metadata"
	case KindError:
		return "error"
	default:
		return "none"
	}
}

// Capture is the result of one Receiver.Capture call.
type Capture struct {
	Kind  Kind
	Frame *frame.RawFrame // set for KindVideo
	Err   error           // set for KindError

	release func() error // audio and metadata buffers
}

// Video wraps a captured video frame.
func Video(f *frame.RawFrame) Capture { return Capture{Kind: KindVideo, Frame: f} }

// Audio wraps an audio buffer that must be handed back with release.
func Audio(release func() error) Capture { return Capture{Kind: KindAudio, release: release} }

// Metadata wraps a metadata buffer that must be handed back with release.
func Metadata(release func() error) Capture { return Capture{Kind: KindMetadata, release: release} }

// None reports that nothing arrived within the timeout.
func None() Capture { return Capture{Kind: KindNone} }

// Failed reports that the source is gone. A nil err means frame.ErrSourceGone.
func Failed(err error) Capture {
	if err == nil {
		err = frame.ErrSourceGone
	}
	return Capture{Kind: KindError, Err: err}
}

// Release returns whatever buffer the capture borrowed. It is safe to call
// on every kind.
func (c Capture) Release() error {
	switch {
	case c.Frame != nil:
		return c.Frame.Release()
	case c.release != nil:
		return c.release()
	}
	return nil
}

// Receiver is a connection to one source.
//
// Capture must not block longer than timeout. Every video frame returned
// must be released before the next Capture call.
type Receiver interface {
	Open(ctx context.Context, src frame.SourceHandle, q frame.Quality) error
	Capture(timeout time.Duration) Capture
	Close() error
}

// ReceiverConfig carries the settings NewReceiver hands to concrete receivers.
type ReceiverConfig struct {
	FFmpegBinary  string
	FFmpegOptions []ffmpeg.OptionType
	FullWidth     int
	FullHeight    int
	ProxyWidth    int
	ProxyHeight   int
	Logger        *slog.Logger
}

// DefaultReceiverConfig returns 1080p full and 360p proxy sizes.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		FFmpegBinary:  ffmpeg.Binary,
		FFmpegOptions: ffmpeg.GetDefaultOptions(),
		FullWidth:     1920,
		FullHeight:    1080,
		ProxyWidth:    640,
		ProxyHeight:   360,
	}
}

// PatternScheme addresses the built-in synthetic source.
const PatternScheme = "pattern"

// NewReceiver picks a receiver for the address scheme: pattern:// gets the
// synthetic source, anything else is handed to ffmpeg as an input URL.
func NewReceiver(address string, cfg ReceiverConfig) (Receiver, error) {
	if address == "" {
		return nil, fmt.Errorf("empty source address")
	}
	if strings.HasPrefix(address, PatternScheme+"://") {
		if _, err := url.Parse(address); err != nil {
			return nil, fmt.Errorf("parse pattern address: %w", err)
		}
		return NewPatternReceiver(), nil
	}
	return NewFFmpegReceiver(cfg), nil
}
