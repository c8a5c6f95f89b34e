package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAndStatusRecords(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	ts := time.Unix(1700000000, 123456789)
	f := &frame.Normalized{
		Data:      bytes.Repeat([]byte{1, 2, 3}, 4*2),
		Width:     4,
		Height:    2,
		Seq:       42,
		Timestamp: ts,
	}
	status := capture.Status{
		Kind:      capture.StatusError,
		Source:    frame.SourceHandle{Name: "STUDIO", Address: "srt://studio:9000"},
		ErrorKind: events.ErrorKindFormat,
		Message:   "unsupported format unknown",
	}

	require.NoError(t, enc.WriteFrame(f))
	require.NoError(t, enc.WriteStatus(status))

	dec := NewDecoder(&buf)

	rec, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindFrame, rec.Kind)
	assert.Equal(t, f.Data, rec.Frame.Data)
	assert.Equal(t, 4, rec.Frame.Width)
	assert.Equal(t, 2, rec.Frame.Height)
	assert.Equal(t, uint64(42), rec.Frame.Seq)
	assert.True(t, ts.Equal(rec.Frame.Timestamp))

	rec, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, KindStatus, rec.Kind)
	assert.Equal(t, status, rec.Status)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteFrameRejectsSizeMismatch(t *testing.T) {
	enc := NewEncoder(io.Discard)
	err := enc.WriteFrame(&frame.Normalized{Data: make([]byte, 5), Width: 2, Height: 1})
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDecodeHeaderValidation(t *testing.T) {
	good := Header{Magic: Magic, Version: Version, Kind: KindStatus, PayloadLen: 2}

	tests := []struct {
		name   string
		mutate func(*Header)
		want   error
	}{
		{"bad magic", func(h *Header) { h.Magic = 0xdeadbeef }, ErrBadMagic},
		{"bad version", func(h *Header) { h.Version = 9 }, ErrBadVersion},
		{"unknown kind", func(h *Header) { h.Kind = 7 }, ErrUnknownKind},
		{"oversized", func(h *Header) { h.PayloadLen = MaxPayload + 1 }, ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := good
			tt.mutate(&h)
			_, err := DecodeHeader(EncodeHeader(h))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	h, err := DecodeHeader(EncodeHeader(good))
	require.NoError(t, err)
	assert.Equal(t, good, h)
}

func TestTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteFrame(&frame.Normalized{Data: make([]byte, 12), Width: 2, Height: 2}))

	truncated := buf.Bytes()[:buf.Len()-4]
	_, err := NewDecoder(bytes.NewReader(truncated)).Next()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}

func TestFrameDimensionMismatchOnDecode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(Header{Magic: Magic, Version: Version, Kind: KindFrame, Width: 2, Height: 2, PayloadLen: 3}))
	buf.Write([]byte{0, 0, 0})

	_, err := NewDecoder(&buf).Next()
	assert.ErrorIs(t, err, ErrSizeMismatch)
}
