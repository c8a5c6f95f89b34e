package capture

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/returnfeed/internal/frame"
)

// Pattern defaults.
const (
	DefaultPatternWidth  = 1280
	DefaultPatternHeight = 720
	DefaultPatternFPS    = 60000.0 / 1001.0
)

// barStep is how far the bars move per frame, in pixels.
const barStep = 4

// 75% color bars in RGB: white, yellow, cyan, green, magenta, red, blue, black.
var colorBars = [8][3]byte{
	{191, 191, 191},
	{191, 191, 0},
	{0, 191, 191},
	{0, 191, 0},
	{191, 0, 191},
	{191, 0, 0},
	{0, 0, 191},
	{0, 0, 0},
}

type yuv struct{ y, u, v byte }

var barsYUV = func() (out [8]yuv) {
	for i, c := range colorBars {
		r, g, b := int(c[0]), int(c[1]), int(c[2])
		out[i] = yuv{
			y: byte(16 + (66*r+129*g+25*b+128)>>8),
			u: byte(128 + (-38*r-74*g+112*b+128)>>8),
			v: byte(128 + (112*r-94*g-18*b+128)>>8),
		}
	}
	return out
}()

// PatternSpec is a parsed pattern:// address.
type PatternSpec struct {
	FourCC string
	Format frame.FormatTag
	Width  int
	Height int
	FPS    float64
	// GoneAfter ends the source after that many frames when positive.
	GoneAfter int
}

// ParsePatternAddress parses pattern://FOURCC?w=&h=&fps=&gone_after=.
// The FourCC defaults to UYVY.
func ParsePatternAddress(address string) (PatternSpec, error) {
	u, err := url.Parse(address)
	if err != nil {
		return PatternSpec{}, fmt.Errorf("parse pattern address: %w", err)
	}
	if u.Scheme != PatternScheme {
		return PatternSpec{}, fmt.Errorf("not a pattern address: %q", address)
	}

	spec := PatternSpec{
		FourCC: strings.ToUpper(u.Host),
		Width:  DefaultPatternWidth,
		Height: DefaultPatternHeight,
		FPS:    DefaultPatternFPS,
	}
	if spec.FourCC == "" {
		spec.FourCC = "UYVY"
	}
	spec.Format = frame.ParseFourCC(spec.FourCC)
	if spec.Format == frame.Unknown {
		return PatternSpec{}, fmt.Errorf("pattern fourcc %q not supported", spec.FourCC)
	}

	q := u.Query()
	if v := q.Get("w"); v != "" {
		if spec.Width, err = strconv.Atoi(v); err != nil {
			return PatternSpec{}, fmt.Errorf("invalid width %q: %w", v, err)
		}
	}
	if v := q.Get("h"); v != "" {
		if spec.Height, err = strconv.Atoi(v); err != nil {
			return PatternSpec{}, fmt.Errorf("invalid height %q: %w", v, err)
		}
	}
	if v := q.Get("fps"); v != "" {
		if spec.FPS, err = strconv.ParseFloat(v, 64); err != nil {
			return PatternSpec{}, fmt.Errorf("invalid fps %q: %w", v, err)
		}
	}
	if v := q.Get("gone_after"); v != "" {
		if spec.GoneAfter, err = strconv.Atoi(v); err != nil {
			return PatternSpec{}, fmt.Errorf("invalid gone_after %q: %w", v, err)
		}
	}

	if spec.Width < 2 || spec.Height < 2 {
		return PatternSpec{}, fmt.Errorf("pattern size %dx%d too small", spec.Width, spec.Height)
	}
	if spec.FPS <= 0 || spec.FPS > 240 {
		return PatternSpec{}, fmt.Errorf("pattern fps %v out of range", spec.FPS)
	}
	// 4:2:x layouts need even dimensions.
	spec.Width &^= 1
	spec.Height &^= 1
	return spec, nil
}

// BufferSize returns the byte length of one frame in this spec's layout.
func (s PatternSpec) BufferSize() int {
	switch s.Format {
	case frame.PackedYUV422:
		return s.Width * s.Height * 2
	case frame.PackedBGRWithPad, frame.PackedRGBWithPad:
		return s.Width * s.Height * 4
	case frame.PlanarNV12:
		return s.Width * s.Height * 3 / 2
	case frame.Planar16BitYUV:
		return s.Width * s.Height * 3
	}
	return 0
}

// Interval returns the time between frames.
func (s PatternSpec) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.FPS)
}

// PatternReceiver is a synthetic source producing moving color bars.
type PatternReceiver struct {
	mu       sync.Mutex
	spec     PatternSpec
	pool     sync.Pool
	start    time.Time
	produced int
	open     bool
	closed   bool
}

// NewPatternReceiver creates an unopened pattern receiver.
func NewPatternReceiver() *PatternReceiver {
	return &PatternReceiver{}
}

// Open parses the source address. Proxy quality halves both dimensions.
func (r *PatternReceiver) Open(_ context.Context, src frame.SourceHandle, q frame.Quality) error {
	spec, err := ParsePatternAddress(src.Address)
	if err != nil {
		return err
	}
	if q == frame.QualityProxy {
		spec.Width = (spec.Width / 2) &^ 1
		spec.Height = (spec.Height / 2) &^ 1
		if spec.Width < 2 || spec.Height < 2 {
			return fmt.Errorf("pattern too small for proxy quality")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("receiver closed")
	}
	size := spec.BufferSize()
	r.spec = spec
	r.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	r.start = time.Now()
	r.produced = 0
	r.open = true
	return nil
}

// Spec returns the active pattern parameters.
func (r *PatternReceiver) Spec() PatternSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// Capture waits for the next frame deadline. If the deadline is further
// away than timeout it sleeps for timeout and returns None.
func (r *PatternReceiver) Capture(timeout time.Duration) Capture {
	r.mu.Lock()
	if !r.open || r.closed {
		r.mu.Unlock()
		return Failed(frame.ErrSourceGone)
	}
	spec := r.spec
	n := r.produced
	if spec.GoneAfter > 0 && n >= spec.GoneAfter {
		r.mu.Unlock()
		return Failed(fmt.Errorf("pattern ended after %d frames: %w", n, frame.ErrSourceGone))
	}
	deadline := r.start.Add(time.Duration(n) * spec.Interval())
	r.mu.Unlock()

	if wait := time.Until(deadline); wait > 0 {
		if wait > timeout {
			time.Sleep(timeout)
			return None()
		}
		time.Sleep(wait)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Failed(frame.ErrSourceGone)
	}
	r.produced++
	r.mu.Unlock()

	bufp := r.pool.Get().(*[]byte)
	buf := *bufp
	renderBars(buf, spec, n)

	f := frame.NewRawFrame(buf, spec.Width, spec.Height, 0, spec.Format, func() error {
		r.pool.Put(bufp)
		return nil
	})
	f.FourCC = spec.FourCC
	f.Timestamp = deadline
	return Video(f)
}

// Close ends the source. Later captures report the source gone.
func (r *PatternReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// bar returns the color bar index under column x on frame n.
func bar(x, width, n int) int {
	shifted := (x + n*barStep) % width
	return shifted * len(colorBars) / width
}

// renderBars fills buf with frame n of the pattern in spec's layout.
func renderBars(buf []byte, spec PatternSpec, n int) {
	w, h := spec.Width, spec.Height

	switch spec.Format {
	case frame.PackedYUV422:
		row := buf[:w*2]
		for x := 0; x < w; x += 2 {
			c0, c1 := barsYUV[bar(x, w, n)], barsYUV[bar(x+1, w, n)]
			row[x*2] = byte((int(c0.u) + int(c1.u)) / 2)
			row[x*2+1] = c0.y
			row[x*2+2] = byte((int(c0.v) + int(c1.v)) / 2)
			row[x*2+3] = c1.y
		}
		fillRows(buf, row, h)

	case frame.PackedBGRWithPad, frame.PackedRGBWithPad:
		row := buf[:w*4]
		for x := range w {
			c := colorBars[bar(x, w, n)]
			p := row[x*4 : x*4+4]
			if spec.Format == frame.PackedBGRWithPad {
				p[0], p[1], p[2] = c[2], c[1], c[0]
			} else {
				p[0], p[1], p[2] = c[0], c[1], c[2]
			}
			p[3] = 0xff
		}
		fillRows(buf, row, h)

	case frame.PlanarNV12:
		luma := buf[:w*h]
		chroma := buf[w*h : w*h*3/2]
		for x := range w {
			luma[x] = barsYUV[bar(x, w, n)].y
		}
		fillRows(luma, luma[:w], h)
		for x := 0; x < w; x += 2 {
			c := barsYUV[bar(x, w, n)]
			chroma[x], chroma[x+1] = c.u, c.v
		}
		fillRows(chroma, chroma[:w], h/2)

	case frame.Planar16BitYUV:
		luma := buf[:w*h*2]
		chroma := buf[w*h*2 : w*h*3]
		for x := range w {
			luma[x*2], luma[x*2+1] = 0, barsYUV[bar(x, w, n)].y
		}
		fillRows(luma, luma[:w*2], h)
		for x := 0; x < w; x += 2 {
			c := barsYUV[bar(x, w, n)]
			chroma[x*2], chroma[x*2+1] = 0, c.u
			chroma[x*2+2], chroma[x*2+3] = 0, c.v
		}
		fillRows(chroma, chroma[:w*2], h/2)
	}
}

// fillRows copies the first row of dst into the following rows-1 rows.
func fillRows(dst, row []byte, rows int) {
	stride := len(row)
	for y := 1; y < rows; y++ {
		copy(dst[y*stride:(y+1)*stride], row)
	}
}
