package convert

// BT.601 limited-range coefficients in 16.16 fixed point. One table set is
// used for every YUV layout so all sources share identical colorimetry.
var (
	yTab  [256]int32
	rvTab [256]int32
	guTab [256]int32
	gvTab [256]int32
	buTab [256]int32
)

const fixShift = 16

func init() {
	const one = 1 << fixShift
	for i := range 256 {
		c := float64(i - 128)
		yTab[i] = int32(1.164 * float64(i-16) * one)
		rvTab[i] = int32(1.596 * c * one)
		guTab[i] = int32(0.391 * c * one)
		gvTab[i] = int32(0.813 * c * one)
		buTab[i] = int32(2.018 * c * one)
	}
}

func clamp8(v int32) byte {
	v = (v + (1 << (fixShift - 1))) >> fixShift
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// putBGR writes one pixel converted from Y, U, V into dst[0:3].
func putBGR(dst []byte, y, u, v byte) {
	yy := yTab[y]
	dst[0] = clamp8(yy + buTab[u])
	dst[1] = clamp8(yy - guTab[u] - gvTab[v])
	dst[2] = clamp8(yy + rvTab[v])
}

// putGray writes a luma-only pixel with the same range expansion.
func putGray(dst []byte, y byte) {
	g := clamp8(yTab[y])
	dst[0], dst[1], dst[2] = g, g, g
}
