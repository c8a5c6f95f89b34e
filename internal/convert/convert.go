// Package convert turns captured pixel buffers of any supported wire layout
// into packed BGR, 3 bytes per pixel.
//
// Every function here is pure: the output is always a fresh allocation and
// never aliases the input, so the caller may release the RawFrame as soon as
// Convert returns.
package convert

import (
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
)

// Convert dispatches on the frame's format tag and returns an owned BGR copy.
func Convert(raw *frame.RawFrame) (*frame.Normalized, error) {
	if raw.Width <= 0 || raw.Height <= 0 {
		return nil, unsupported(raw, "non-positive dimensions")
	}

	var (
		out   []byte
		width = raw.Width
		err   error
	)

	switch raw.Format {
	case frame.PackedYUV422:
		width = raw.Width &^ 1
		out, err = fromUYVY(raw, width)
	case frame.PackedBGRWithPad:
		out, err = fromPadded(raw, false)
	case frame.PackedRGBWithPad:
		out, err = fromPadded(raw, true)
	case frame.PlanarNV12:
		out, err = fromNV12(raw.Data, raw.Width, raw.Height, stride(raw, raw.Width))
		if err != nil {
			err = unsupported(raw, err.Error())
		}
	case frame.Planar16BitYUV:
		out, err = from16Bit(raw)
	default:
		out, err = fromUnknown(raw)
	}
	if err != nil {
		return nil, err
	}

	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return &frame.Normalized{
		Data:      out,
		Width:     width,
		Height:    raw.Height,
		Timestamp: ts,
	}, nil
}

// MinSize returns the smallest buffer Convert accepts for a tightly packed
// frame of the given tag and dimensions.
func MinSize(tag frame.FormatTag, width, height int) int {
	switch tag {
	case frame.PackedYUV422:
		return 2 * (width &^ 1) * height
	case frame.PackedBGRWithPad, frame.PackedRGBWithPad:
		return 4 * width * height
	case frame.PlanarNV12:
		return width * height * 3 / 2
	case frame.Planar16BitYUV:
		return width * height * 3
	default:
		return width * height * 3
	}
}

func stride(raw *frame.RawFrame, def int) int {
	if raw.Stride > 0 {
		return raw.Stride
	}
	return def
}

func unsupported(raw *frame.RawFrame, reason string) error {
	return &frame.UnsupportedFormatError{
		Format: raw.Format,
		Length: len(raw.Data),
		Width:  raw.Width,
		Height: raw.Height,
		Reason: reason,
	}
}

// fromUYVY converts packed 4:2:2 in U Y V Y byte order. width is the
// effective (even) width.
func fromUYVY(raw *frame.RawFrame, width int) ([]byte, error) {
	if width == 0 {
		return nil, unsupported(raw, "width too small for 4:2:2")
	}
	h := raw.Height
	rowBytes := width * 2
	s := stride(raw, rowBytes)
	if s < rowBytes || len(raw.Data) < s*(h-1)+rowBytes {
		return nil, unsupported(raw, "buffer shorter than 4:2:2 extents")
	}

	out := make([]byte, width*h*3)
	for y := range h {
		src := raw.Data[y*s : y*s+rowBytes]
		dst := out[y*width*3 : (y+1)*width*3]
		for x := 0; x < width; x += 2 {
			p := src[x*2 : x*2+4]
			u, y0, v, y1 := p[0], p[1], p[2], p[3]
			putBGR(dst[x*3:], y0, u, v)
			putBGR(dst[x*3+3:], y1, u, v)
		}
	}
	return out, nil
}

// fromPadded strips the fourth byte of 32-bit pixels, swapping R and B
// when the source is RGB ordered.
func fromPadded(raw *frame.RawFrame, swap bool) ([]byte, error) {
	w, h := raw.Width, raw.Height
	rowBytes := w * 4
	s := stride(raw, rowBytes)
	if s < rowBytes || len(raw.Data) < s*(h-1)+rowBytes {
		return nil, unsupported(raw, "buffer shorter than 4 bytes per pixel")
	}

	out := make([]byte, w*h*3)
	for y := range h {
		src := raw.Data[y*s : y*s+rowBytes]
		dst := out[y*w*3 : (y+1)*w*3]
		for x := range w {
			p := src[x*4 : x*4+3]
			if swap {
				dst[x*3], dst[x*3+1], dst[x*3+2] = p[2], p[1], p[0]
			} else {
				copy(dst[x*3:x*3+3], p)
			}
		}
	}
	return out, nil
}

type formatError string

func (e formatError) Error() string { return string(e) }

// fromNV12 converts a Y plane followed by an interleaved UV half plane.
func fromNV12(data []byte, w, h, s int) ([]byte, error) {
	if w%2 != 0 || h%2 != 0 {
		return nil, formatError("4:2:0 requires even dimensions")
	}
	if s < w {
		return nil, formatError("stride smaller than width")
	}
	uvOffset := s * h
	if len(data) < uvOffset+s*(h/2-1)+w {
		return nil, formatError("buffer shorter than width*height*3/2")
	}

	out := make([]byte, w*h*3)
	for y := range h {
		yRow := data[y*s : y*s+w]
		uvRow := data[uvOffset+(y/2)*s : uvOffset+(y/2)*s+w]
		dst := out[y*w*3 : (y+1)*w*3]
		for x := range w {
			c := x &^ 1
			putBGR(dst[x*3:], yRow[x], uvRow[c], uvRow[c+1])
		}
	}
	return out, nil
}

// from16Bit keeps the upper byte of each little-endian 16-bit sample. With a
// UV plane present the result is rebuilt as NV12; a luma-only buffer yields
// grayscale.
func from16Bit(raw *frame.RawFrame) ([]byte, error) {
	w, h := raw.Width, raw.Height
	s := stride(raw, w*2)
	if s < w*2 {
		return nil, unsupported(raw, "stride smaller than 2 bytes per sample")
	}
	lumaBytes := s * h

	switch {
	case len(raw.Data) >= lumaBytes+s*h/2:
		nv12 := make([]byte, w*h*3/2)
		for y := range h {
			src := raw.Data[y*s:]
			for x := range w {
				nv12[y*w+x] = src[x*2+1]
			}
		}
		// The UV plane has h/2 rows of w/2 interleaved U,V pairs (w samples).
		for y := range h / 2 {
			src := raw.Data[lumaBytes+y*s:]
			dst := nv12[w*h+y*w:]
			for x := range w {
				dst[x] = src[x*2+1]
			}
		}
		out, err := fromNV12(nv12, w, h, w)
		if err != nil {
			return nil, unsupported(raw, err.Error())
		}
		return out, nil

	case len(raw.Data) >= s*(h-1)+w*2:
		out := make([]byte, w*h*3)
		for y := range h {
			src := raw.Data[y*s:]
			dst := out[y*w*3:]
			for x := range w {
				putGray(dst[x*3:], src[x*2+1])
			}
		}
		return out, nil

	default:
		return nil, unsupported(raw, "buffer shorter than 16-bit luma plane")
	}
}

// fromUnknown infers 3- or 4-channel RGB data from the buffer length.
func fromUnknown(raw *frame.RawFrame) ([]byte, error) {
	w, h := raw.Width, raw.Height
	pixels := w * h
	channels := len(raw.Data) / pixels

	switch channels {
	case 3, 4:
	default:
		return nil, unsupported(raw, "cannot infer channel count")
	}

	out := make([]byte, pixels*3)
	for i := range pixels {
		p := raw.Data[i*channels : i*channels+3]
		out[i*3], out[i*3+1], out[i*3+2] = p[2], p[1], p[0]
	}
	return out, nil
}
