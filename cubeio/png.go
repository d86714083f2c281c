package cubeio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hsilab/pushbroom/hsi"
)

// finiteMax returns the largest finite value in s, or 0 if there is none
func finiteMax(s []float64) float64 {
	clean := make([]float64, 0, len(s))
	for _, v := range s {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}
	return floats.Max(clean)
}

func to8(v, peak float64) uint8 {
	if peak <= 0 || math.IsNaN(v) || v <= 0 {
		return 0
	}
	v = math.Round(255 * v / peak)
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// EncodeRGBPNG writes an (X, Y, 3) cube as an 8-bit color PNG with one row per
// scan step.  All three channels share one scale so the peak maps to 255.
func EncodeRGBPNG(w io.Writer, rgb *hsi.Cube) error {
	if rgb == nil || rgb.Channels != 3 || rgb.Steps*rgb.Spatial == 0 {
		return fmt.Errorf("%w: RGB preview needs an (X, Y, 3) cube", ErrNotCube)
	}
	peak := finiteMax(rgb.Data)
	im := image.NewRGBA(image.Rect(0, 0, rgb.Spatial, rgb.Steps))
	for x := 0; x < rgb.Steps; x++ {
		for y := 0; y < rgb.Spatial; y++ {
			im.SetRGBA(y, x, color.RGBA{
				R: to8(rgb.At(x, y, 0), peak),
				G: to8(rgb.At(x, y, 1), peak),
				B: to8(rgb.At(x, y, 2), peak),
				A: 255})
		}
	}
	return png.Encode(w, im)
}

// EncodeChannelPNG writes channel z of a cube as an 8-bit gray PNG with one
// row per scan step
func EncodeChannelPNG(w io.Writer, c *hsi.Cube, z int) error {
	plane, err := c.Channel(z)
	if err != nil {
		return err
	}
	peak := finiteMax(plane)
	im := image.NewGray(image.Rect(0, 0, c.Spatial, c.Steps))
	for i, v := range plane {
		im.Pix[i] = to8(v, peak)
	}
	return png.Encode(w, im)
}
