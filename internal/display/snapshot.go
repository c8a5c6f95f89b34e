// Package display holds the presentation sinks fed by the pacing scheduler.
package display

import (
	"bytes"
	"errors"
	"image/jpeg"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/convert"
	"github.com/smazurov/returnfeed/internal/frame"
)

// DefaultJPEGQuality is used when Snapshot is created with quality 0.
const DefaultJPEGQuality = 85

// ErrNoFrame is returned when nothing has been presented yet, or the source
// has disconnected since.
var ErrNoFrame = errors.New("no frame available")

// Info describes the frame a snapshot would encode.
type Info struct {
	Connected bool      `json:"connected"`
	Seq       uint64    `json:"seq,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Repeated  bool      `json:"repeated,omitempty"`
}

// Snapshot keeps the most recently presented frame and encodes it to JPEG
// on demand. Encodings are cached per frame.
type Snapshot struct {
	quality int

	mu        sync.Mutex
	latest    *frame.Normalized
	connected bool
	cachedSeq uint64
	cached    []byte
}

// NewSnapshot creates a snapshot sink.
func NewSnapshot(quality int) *Snapshot {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Snapshot{quality: quality}
}

// Show records f as the latest frame. Frames arriving while disconnected
// are dropped.
func (s *Snapshot) Show(f *frame.Normalized) {
	s.mu.Lock()
	if s.connected {
		s.latest = f
	}
	s.mu.Unlock()
}

// SetConnected tracks the source state. Disconnecting clears the frame so
// clients see "no signal" rather than a stale picture.
func (s *Snapshot) SetConnected(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = up
	if !up {
		s.latest = nil
		s.cached = nil
	}
}

// Connected reports the last state passed to SetConnected.
func (s *Snapshot) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Info describes the latest frame.
func (s *Snapshot) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{Connected: s.connected}
	if f := s.latest; f != nil {
		info.Seq, info.Width, info.Height = f.Seq, f.Width, f.Height
		info.Timestamp, info.Repeated = f.Timestamp, f.Repeated
	}
	return info
}

// JPEG encodes the latest frame.
func (s *Snapshot) JPEG() ([]byte, Info, error) {
	s.mu.Lock()
	f := s.latest
	info := Info{Connected: s.connected}
	if f != nil && s.cached != nil && s.cachedSeq == f.Seq {
		out := s.cached
		s.mu.Unlock()
		return out, fill(info, f), nil
	}
	s.mu.Unlock()

	if f == nil {
		return nil, info, ErrNoFrame
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, convert.ToImage(f), &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, info, err
	}
	out := buf.Bytes()

	s.mu.Lock()
	if s.latest != nil && s.latest.Seq == f.Seq {
		s.cached, s.cachedSeq = out, f.Seq
	}
	s.mu.Unlock()
	return out, fill(info, f), nil
}

func fill(info Info, f *frame.Normalized) Info {
	info.Seq, info.Width, info.Height = f.Seq, f.Width, f.Height
	info.Timestamp, info.Repeated = f.Timestamp, f.Repeated
	return info
}
