package capture

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/smazurov/returnfeed/internal/convert"
	"github.com/smazurov/returnfeed/internal/frame"
)

func TestParsePatternAddress(t *testing.T) {
	tests := []struct {
		address string
		want    PatternSpec
		wantErr bool
	}{
		{
			address: "pattern://",
			want:    PatternSpec{FourCC: "UYVY", Format: frame.PackedYUV422, Width: 1280, Height: 720, FPS: DefaultPatternFPS},
		},
		{
			address: "pattern://nv12?w=641&h=361&fps=25&gone_after=10",
			want:    PatternSpec{FourCC: "NV12", Format: frame.PlanarNV12, Width: 640, Height: 360, FPS: 25, GoneAfter: 10},
		},
		{address: "pattern://I420", wantErr: true},
		{address: "pattern://UYVY?w=abc", wantErr: true},
		{address: "pattern://UYVY?fps=0", wantErr: true},
		{address: "pattern://UYVY?w=1&h=1", wantErr: true},
		{address: "srt://host:9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			got, err := ParsePatternAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPatternFramesConvert(t *testing.T) {
	for _, fourcc := range []string{"UYVY", "BGRA", "BGRX", "RGBA", "RGBX", "NV12", "P216"} {
		t.Run(fourcc, func(t *testing.T) {
			r := NewPatternReceiver()
			src := frame.SourceHandle{Address: "pattern://" + fourcc + "?w=64&h=32&fps=240"}
			if err := r.Open(context.Background(), src, frame.QualityFull); err != nil {
				t.Fatal(err)
			}
			defer r.Close()

			c := r.Capture(time.Second)
			if c.Kind != KindVideo {
				t.Fatalf("capture kind = %s, want video", c.Kind)
			}
			if len(c.Frame.Data) < convert.MinSize(c.Frame.Format, 64, 32) {
				t.Fatalf("buffer %d below minimum for %s", len(c.Frame.Data), fourcc)
			}

			n, err := convert.Convert(c.Frame)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if err := c.Release(); err != nil {
				t.Errorf("Release: %v", err)
			}

			// Leftmost bar is 75% white; rightmost is black.
			if b := n.Data[0]; b < 170 || b > 210 {
				t.Errorf("first pixel blue = %d, want about 191", b)
			}
			last := n.Data[len(n.Data)-3:]
			if last[0] > 30 || last[1] > 30 || last[2] > 30 {
				t.Errorf("last pixel = %v, want near black", last)
			}
		})
	}
}

func TestPatternProxyHalvesSize(t *testing.T) {
	r := NewPatternReceiver()
	src := frame.SourceHandle{Address: "pattern://UYVY?w=1280&h=720&fps=240"}
	if err := r.Open(context.Background(), src, frame.QualityProxy); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	c := r.Capture(time.Second)
	defer c.Release()
	if c.Frame.Width != 640 || c.Frame.Height != 360 {
		t.Errorf("proxy size = %dx%d, want 640x360", c.Frame.Width, c.Frame.Height)
	}
}

func TestPatternPacing(t *testing.T) {
	r := NewPatternReceiver()
	src := frame.SourceHandle{Address: "pattern://UYVY?w=16&h=8&fps=50"}
	if err := r.Open(context.Background(), src, frame.QualityFull); err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var stamps []time.Time
	misses := 0
	for len(stamps) < 10 {
		c := r.Capture(5 * time.Millisecond)
		switch c.Kind {
		case KindVideo:
			stamps = append(stamps, c.Frame.Timestamp)
			_ = c.Release()
		case KindNone:
			misses++
		default:
			t.Fatalf("unexpected capture kind %s", c.Kind)
		}
	}

	if misses == 0 {
		t.Error("a 5ms timeout against a 20ms interval should miss")
	}
	span := stamps[len(stamps)-1].Sub(stamps[0])
	want := 9 * 20 * time.Millisecond
	if math.Abs(float64(span-want)) > float64(time.Millisecond) {
		t.Errorf("timestamp span = %v, want %v", span, want)
	}
}

func TestPatternGoneAfter(t *testing.T) {
	r := NewPatternReceiver()
	src := frame.SourceHandle{Address: "pattern://UYVY?w=16&h=8&fps=240&gone_after=2"}
	if err := r.Open(context.Background(), src, frame.QualityFull); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		c := r.Capture(time.Second)
		if c.Kind != KindVideo {
			t.Fatalf("kind = %s, want video", c.Kind)
		}
		_ = c.Release()
	}
	c := r.Capture(time.Second)
	if c.Kind != KindError || !errors.Is(c.Err, frame.ErrSourceGone) {
		t.Errorf("after gone_after: kind=%s err=%v", c.Kind, c.Err)
	}

	_ = r.Close()
	if c := r.Capture(time.Millisecond); c.Kind != KindError {
		t.Errorf("capture after Close kind = %s, want error", c.Kind)
	}
}

func TestNewReceiverByScheme(t *testing.T) {
	r, err := NewReceiver("pattern://UYVY", DefaultReceiverConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*PatternReceiver); !ok {
		t.Errorf("pattern address got %T", r)
	}

	r, err = NewReceiver("rtsp://camera/stream", DefaultReceiverConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*FFmpegReceiver); !ok {
		t.Errorf("rtsp address got %T", r)
	}

	if _, err := NewReceiver("", DefaultReceiverConfig()); err == nil {
		t.Error("expected error for empty address")
	}
}
