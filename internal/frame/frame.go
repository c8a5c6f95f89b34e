// Package frame defines the pixel buffers and source identities that flow
// through the capture pipeline.
package frame

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FormatTag identifies the wire layout of a captured pixel buffer.
type FormatTag int

const (
	Unknown FormatTag = iota
	PackedYUV422
	PackedBGRWithPad
	PackedRGBWithPad
	PlanarNV12
	Planar16BitYUV
)

func (t FormatTag) String() string {
	switch t {
	case PackedYUV422:
		return "packed_yuv422"
	case PackedBGRWithPad:
		return "packed_bgr_pad"
	case PackedRGBWithPad:
		return "packed_rgb_pad"
	case PlanarNV12:
		return "planar_nv12"
	case Planar16BitYUV:
		return "planar_16bit_yuv"
	default:
		return "unknown"
	}
}

// ParseFourCC maps a FourCC code to its format tag.
// Codes that are not recognized map to Unknown.
func ParseFourCC(fourcc string) FormatTag {
	switch strings.ToUpper(strings.TrimSpace(fourcc)) {
	case "UYVY":
		return PackedYUV422
	case "BGRA", "BGRX":
		return PackedBGRWithPad
	case "RGBA", "RGBX":
		return PackedRGBWithPad
	case "NV12":
		return PlanarNV12
	case "P216", "PA16":
		return Planar16BitYUV
	default:
		return Unknown
	}
}

// Quality selects the representation requested from a source at connect time.
type Quality string

const (
	QualityFull  Quality = "full"
	QualityProxy Quality = "proxy"
)

// ParseQuality validates a quality mode string. Empty means full.
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityFull:
		return QualityFull, nil
	case QualityProxy:
		return QualityProxy, nil
	default:
		return "", fmt.Errorf("invalid quality %q: must be %q or %q", s, QualityFull, QualityProxy)
	}
}

// SourceHandle identifies one video source as returned by discovery.
type SourceHandle struct {
	Name    string `json:"name" toml:"name" example:"STUDIO (Program)" doc:"Source display name"`
	Address string `json:"address" toml:"address" example:"pattern://UYVY?w=1280&h=720" doc:"Source address"`
}

// Key returns the identity used to enforce exclusive connections.
func (h SourceHandle) Key() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

func (h SourceHandle) String() string {
	if h.Name == "" {
		return h.Address
	}
	return fmt.Sprintf("%s (%s)", h.Name, h.Address)
}

// RawFrame is a captured buffer borrowed from a receiver. Data is only valid
// until Release is called, and Release must be called exactly once.
type RawFrame struct {
	Data      []byte
	Width     int
	Height    int
	Stride    int
	Format    FormatTag
	FourCC    string
	Timestamp time.Time

	release     func() error
	releaseOnce sync.Once
	released    bool
}

// NewRawFrame wraps a receiver buffer. release may be nil for buffers the
// receiver does not need back.
func NewRawFrame(data []byte, width, height, stride int, format FormatTag, release func() error) *RawFrame {
	return &RawFrame{
		Data:      data,
		Width:     width,
		Height:    height,
		Stride:    stride,
		Format:    format,
		Timestamp: time.Now(),
		release:   release,
	}
}

// Release hands the buffer back to its receiver. Only the first call runs
// the release hook; later calls return ErrAlreadyReleased.
func (f *RawFrame) Release() error {
	err := ErrAlreadyReleased
	f.releaseOnce.Do(func() {
		f.released = true
		err = nil
		if f.release != nil {
			if relErr := f.release(); relErr != nil {
				err = &ReleaseError{Err: relErr}
			}
		}
		f.Data = nil
	})
	return err
}

// Released reports whether Release has been called.
func (f *RawFrame) Released() bool {
	return f.released
}

// Normalized is an owned packed BGR image, 3 bytes per pixel.
type Normalized struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
	// Repeated is set when the scheduler re-displays a frame to cover a gap.
	Repeated bool
}

// AsRepeat returns a shallow copy marked as repeated. Pixel data is shared
// since displays treat frames as read-only.
func (n *Normalized) AsRepeat() *Normalized {
	dup := *n
	dup.Repeated = true
	return &dup
}

// ErrAlreadyReleased is returned when a RawFrame is released twice.
var ErrAlreadyReleased = errors.New("frame already released")
