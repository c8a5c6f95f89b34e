package convert

import (
	"image"

	"github.com/smazurov/returnfeed/internal/frame"
)

// ToImage copies a BGR frame into an RGBA image for encoding.
func ToImage(f *frame.Normalized) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := range n {
		src := f.Data[i*3 : i*3+3]
		dst := img.Pix[i*4 : i*4+4]
		dst[0], dst[1], dst[2], dst[3] = src[2], src[1], src[0], 0xff
	}
	return img
}
