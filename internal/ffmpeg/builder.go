package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// Binary is the ffmpeg executable looked up on PATH.
const Binary = "ffmpeg"

// Raw pixel formats written to stdout.
const (
	PixFmtUYVY = "uyvy422"
	PixFmtNV12 = "nv12"
)

// CaptureParams describes one raw capture from an ffmpeg input.
type CaptureParams struct {
	Binary      string       // defaults to Binary
	Input       string       // input URL or device path
	InputFormat string       // demuxer passed with -f (empty lets ffmpeg probe)
	Options     []OptionType // input flags
	ExtraArgs   []string     // verbatim args placed before -i
	PixFmt      string       // output pixel format
	Width       int          // output width
	Height      int          // output height
	FPS         string       // optional output rate
	Progress    bool         // emit -progress key=value blocks on stderr
}

// Validate reports missing or inconsistent parameters.
func (p CaptureParams) Validate() error {
	if p.Input == "" {
		return errors.New("input is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid output size %dx%d", p.Width, p.Height)
	}
	switch p.PixFmt {
	case PixFmtUYVY:
	case PixFmtNV12:
		if p.Width%2 != 0 || p.Height%2 != 0 {
			return fmt.Errorf("nv12 output needs even dimensions, got %dx%d", p.Width, p.Height)
		}
	default:
		return fmt.Errorf("unsupported pixel format %q", p.PixFmt)
	}
	return ValidateOptions(p.Options)
}

// FrameSize returns the byte length of one output frame.
func (p CaptureParams) FrameSize() int {
	switch p.PixFmt {
	case PixFmtNV12:
		return p.Width * p.Height * 3 / 2
	default:
		return p.Width * p.Height * 2
	}
}

// BuildCaptureArgs builds the argument vector for a raw capture that writes
// fixed-size frames to stdout.
func BuildCaptureArgs(p CaptureParams) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	bin := p.Binary
	if bin == "" {
		bin = Binary
	}

	args := []string{bin, "-hide_banner", "-nostdin", "-loglevel", "level+warning"}
	if p.Progress {
		args = append(args, "-nostats", "-progress", "pipe:2", "-stats_period", "1")
	}
	args = append(args, inputArgs(p.Options)...)
	args = append(args, p.ExtraArgs...)
	if p.InputFormat != "" {
		args = append(args, "-f", p.InputFormat)
	}
	args = append(args, "-i", p.Input)

	args = append(args, "-map", "0:v:0", "-an", "-sn", "-dn")
	args = append(args, "-vf", fmt.Sprintf("scale=%d:%d:flags=bilinear", p.Width, p.Height))
	if p.FPS != "" {
		args = append(args, "-r", p.FPS)
	}
	args = append(args, "-pix_fmt", p.PixFmt, "-f", "rawvideo", "pipe:1")

	return args, nil
}

var dquoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// BuildCaptureCommand renders BuildCaptureArgs as a single string for logs.
// The result splits back into the same arguments with process.SplitCommand.
func BuildCaptureCommand(p CaptureParams) (string, error) {
	args, err := BuildCaptureArgs(p)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t'\"\\$`") {
			a = `"` + dquoteEscaper.Replace(a) + `"`
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " "), nil
}
