package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat matches any UnsupportedFormatError via errors.Is.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrSourceGone is reported when the receiver loses its source.
	ErrSourceGone = errors.New("source gone")
	// ErrHandleBusy is returned when a source already has a live connection.
	ErrHandleBusy = errors.New("source already connected")
	// ErrContextClosed is returned when connecting through a shut-down pipeline context.
	ErrContextClosed = errors.New("pipeline context not initialized")
)

// ConnectError is returned when a source handle could not be connected.
type ConnectError struct {
	Source SourceHandle
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Source, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// UnsupportedFormatError describes a buffer the converter cannot interpret.
type UnsupportedFormatError struct {
	Format FormatTag
	Length int
	Width  int
	Height int
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	msg := fmt.Sprintf("unsupported format %s (%d bytes for %dx%d)", e.Format, e.Length, e.Width, e.Height)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// ReleaseError wraps a failure to hand a RawFrame back to its receiver.
type ReleaseError struct {
	Err error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("release frame: %v", e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }
