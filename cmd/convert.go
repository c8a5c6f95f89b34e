package cmd

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/smazurov/returnfeed/internal/capture"
	"github.com/smazurov/returnfeed/internal/convert"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/spf13/cobra"
)

type convertOptions struct {
	Input   string
	Pattern string
	FourCC  string
	Width   int
	Height  int
	Stride  int
	Output  string
}

// CreateConvertCmd creates the convert command, which renders one raw
// buffer to PNG. It is the offline check for pixel format handling.
func CreateConvertCmd() *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a raw frame dump to PNG",
		Long: `Reads one captured buffer from --input (described by --fourcc, --width, --height and optionally --stride),
or grabs one frame from a pattern:// address, converts it to BGR and writes a PNG.`,
		Example: `  returnfeed convert --input frame.uyvy --fourcc UYVY --width 1920 --height 1080 --output frame.png
  returnfeed convert --pattern "pattern://NV12?w=640&h=360" --output bars.png`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			n, err := runConvert(c.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "wrote %s (%dx%d)\n", opts.Output, n.Width, n.Height)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Raw frame file")
	cmd.Flags().StringVar(&opts.Pattern, "pattern", "", "Grab one frame from a pattern:// address instead")
	cmd.Flags().StringVar(&opts.FourCC, "fourcc", "UYVY", "Pixel format of the input (UYVY, BGRA, BGRX, RGBA, RGBX, NV12, P216, PA16)")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Frame width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Frame height in pixels")
	cmd.Flags().IntVar(&opts.Stride, "stride", 0, "Row stride in bytes (0 for tightly packed)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "frame.png", "PNG output path")
	cmd.MarkFlagsMutuallyExclusive("input", "pattern")
	cmd.MarkFlagsOneRequired("input", "pattern")

	return cmd
}

func runConvert(ctx context.Context, opts convertOptions) (*frame.Normalized, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		raw *frame.RawFrame
		err error
	)
	if opts.Pattern != "" {
		raw, err = grabPattern(ctx, opts.Pattern)
	} else {
		raw, err = readRaw(opts)
	}
	if err != nil {
		return nil, err
	}

	n, err := convert.Convert(raw)
	_ = raw.Release()
	if err != nil {
		return nil, err
	}

	f, err := os.Create(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	if err := png.Encode(f, convert.ToImage(n)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close output: %w", err)
	}
	return n, nil
}

func readRaw(opts convertOptions) (*frame.RawFrame, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.New("--width and --height are required with --input")
	}
	data, err := os.ReadFile(opts.Input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	raw := frame.NewRawFrame(data, opts.Width, opts.Height, opts.Stride, frame.ParseFourCC(opts.FourCC), nil)
	raw.FourCC = opts.FourCC
	return raw, nil
}

func grabPattern(ctx context.Context, address string) (*frame.RawFrame, error) {
	r := capture.NewPatternReceiver()
	if err := r.Open(ctx, frame.SourceHandle{Address: address}, frame.QualityFull); err != nil {
		return nil, err
	}
	defer r.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c := r.Capture(100 * time.Millisecond)
		switch c.Kind {
		case capture.KindVideo:
			return c.Frame, nil
		case capture.KindError:
			return nil, c.Err
		}
	}
	return nil, errors.New("pattern produced no frame")
}
