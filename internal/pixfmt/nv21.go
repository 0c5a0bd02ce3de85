// Package pixfmt converts between the NV21 frames sources produce natively
// and the RGBA frames the preview path asks for.
package pixfmt

import (
	"fmt"
	"image/color"
)

// Gains are per-channel multipliers applied after conversion.
type Gains struct {
	R, G, B  float32
	Exposure float32
}

// Neutral applies no correction.
var Neutral = Gains{R: 1, G: 1, B: 1, Exposure: 1}

func (g Gains) neutral() bool {
	return g == Neutral
}

// NV21ToRGBA converts a width×height NV21 image into dst (4 bytes per pixel).
func NV21ToRGBA(dst, src []byte, width, height int, g Gains) error {
	ySize := width * height
	if len(src) < ySize*12/8 {
		return fmt.Errorf("pixfmt: nv21 source too small (%d < %d)", len(src), ySize*12/8)
	}
	if len(dst) < ySize*4 {
		return fmt.Errorf("pixfmt: rgba destination too small (%d < %d)", len(dst), ySize*4)
	}
	vu := src[ySize:]
	for y := 0; y < height; y++ {
		row := (y / 2) * width
		for x := 0; x < width; x++ {
			c := row + (x &^ 1)
			r, gg, b := color.YCbCrToRGB(src[y*width+x], vu[c+1], vu[c])
			if !g.neutral() {
				r = scale(r, g.R*g.Exposure)
				gg = scale(gg, g.G*g.Exposure)
				b = scale(b, g.B*g.Exposure)
			}
			o := (y*width + x) * 4
			dst[o] = r
			dst[o+1] = gg
			dst[o+2] = b
			dst[o+3] = 0xff
		}
	}
	return nil
}

// FillNV21 writes a width×height NV21 image whose pixel at (x, y) has the
// colour returned by at.
func FillNV21(dst []byte, width, height int, at func(x, y int) color.RGBA) error {
	ySize := width * height
	if len(dst) < ySize*12/8 {
		return fmt.Errorf("pixfmt: nv21 destination too small (%d < %d)", len(dst), ySize*12/8)
	}
	vu := dst[ySize:]
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := at(x, y)
			yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
			dst[y*width+x] = yy
			if x%2 == 0 && y%2 == 0 {
				o := (y/2)*width + x
				vu[o] = cr
				vu[o+1] = cb
			}
		}
	}
	return nil
}

// ApplyGainsNV21 scales the luma plane of an NV21 image in place. Chroma
// is left alone, so white balance only affects RGBA output.
func ApplyGainsNV21(img []byte, width, height int, g Gains) {
	if g.Exposure == 1 || g.Exposure <= 0 {
		return
	}
	ySize := width * height
	if ySize > len(img) {
		ySize = len(img)
	}
	for i := 0; i < ySize; i++ {
		img[i] = scale(img[i], g.Exposure)
	}
}

func scale(v uint8, k float32) uint8 {
	f := float32(v) * k
	switch {
	case f >= 255:
		return 255
	case f <= 0:
		return 0
	default:
		return uint8(f + 0.5)
	}
}
