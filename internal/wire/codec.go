// Package wire frames BGR images and worker status reports on a byte
// stream. A worker child writes records to stdout and the parent decodes
// them.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/frame"
)

const (
	Magic     uint32 = 0x52465746 // "RFWF"
	Version   uint16 = 1
	HeaderLen        = 36

	// MaxPayload fits one 4096x2160 BGR frame with room to spare.
	MaxPayload = 64 << 20
)

// Kind is the record type.
type Kind uint16

const (
	KindFrame  Kind = 1
	KindStatus Kind = 2
)

var (
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: unsupported version")
	ErrUnknownKind     = errors.New("wire: unknown record kind")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
	ErrSizeMismatch    = errors.New("wire: frame payload does not match dimensions")
)

// Header is the fixed record header, big-endian on the wire.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       Kind
	Seq        uint64
	Width      uint32
	Height     uint32
	Timestamp  int64 // unix nanoseconds
	PayloadLen uint32
}

// EncodeHeader writes h into a new HeaderLen-byte slice.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint64(buf[8:16], h.Seq)
	binary.BigEndian.PutUint32(buf[16:20], h.Width)
	binary.BigEndian.PutUint32(buf[20:24], h.Height)
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.Timestamp))
	binary.BigEndian.PutUint32(buf[32:36], h.PayloadLen)
	return buf
}

// DecodeHeader parses and validates a fixed header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("wire: invalid header length: %d", len(b))
	}
	h := Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Kind:       Kind(binary.BigEndian.Uint16(b[6:8])),
		Seq:        binary.BigEndian.Uint64(b[8:16]),
		Width:      binary.BigEndian.Uint32(b[16:20]),
		Height:     binary.BigEndian.Uint32(b[20:24]),
		Timestamp:  int64(binary.BigEndian.Uint64(b[24:32])),
		PayloadLen: binary.BigEndian.Uint32(b[32:36]),
	}
	switch {
	case h.Magic != Magic:
		return Header{}, ErrBadMagic
	case h.Version != Version:
		return Header{}, ErrBadVersion
	case h.Kind != KindFrame && h.Kind != KindStatus:
		return Header{}, ErrUnknownKind
	case h.PayloadLen > MaxPayload:
		return Header{}, ErrPayloadTooLarge
	}
	return h, nil
}

// Record is one decoded message: a frame or a status.
type Record struct {
	Kind   Kind
	Frame  *frame.Normalized
	Status capture.Status
}

// Encoder writes records. It is safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, 1<<16)}
}

// WriteFrame writes one BGR frame record and flushes.
func (e *Encoder) WriteFrame(f *frame.Normalized) error {
	if len(f.Data) != f.Width*f.Height*3 {
		return ErrSizeMismatch
	}
	if len(f.Data) > MaxPayload {
		return ErrPayloadTooLarge
	}
	h := Header{
		Magic:      Magic,
		Version:    Version,
		Kind:       KindFrame,
		Seq:        f.Seq,
		Width:      uint32(f.Width),
		Height:     uint32(f.Height),
		PayloadLen: uint32(len(f.Data)),
	}
	if !f.Timestamp.IsZero() {
		h.Timestamp = f.Timestamp.UnixNano()
	}
	return e.write(h, f.Data)
}

// WriteStatus writes one JSON status record and flushes.
func (e *Encoder) WriteStatus(s capture.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("wire: encode status: %w", err)
	}
	return e.write(Header{
		Magic:      Magic,
		Version:    Version,
		Kind:       KindStatus,
		Seq:        s.Seq,
		Timestamp:  time.Now().UnixNano(),
		PayloadLen: uint32(len(payload)),
	}, payload)
}

func (e *Encoder) write(h Header, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads records from a stream.
type Decoder struct {
	r      *bufio.Reader
	header [HeaderLen]byte
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 1<<16)}
}

// Next reads one record. It returns io.EOF at a clean end of stream and
// io.ErrUnexpectedEOF when the stream stops mid-record.
func (d *Decoder) Next() (Record, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		return Record{}, err
	}
	h, err := DecodeHeader(d.header[:])
	if err != nil {
		return Record{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	switch h.Kind {
	case KindFrame:
		if uint64(h.Width)*uint64(h.Height)*3 != uint64(h.PayloadLen) {
			return Record{}, ErrSizeMismatch
		}
		f := &frame.Normalized{
			Data:   payload,
			Width:  int(h.Width),
			Height: int(h.Height),
			Seq:    h.Seq,
		}
		if h.Timestamp != 0 {
			f.Timestamp = time.Unix(0, h.Timestamp)
		}
		return Record{Kind: KindFrame, Frame: f}, nil
	default:
		var s capture.Status
		if err := json.Unmarshal(payload, &s); err != nil {
			return Record{}, fmt.Errorf("wire: decode status: %w", err)
		}
		return Record{Kind: KindStatus, Status: s}, nil
	}
}
