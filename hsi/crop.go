package hsi

import (
	"fmt"

	"github.com/hsilab/pushbroom/camera"
)

// CropWindow locates the spectrum on the sensor.  Rows are the spectral axis:
// the slit images on row GapCoord, the spectrum begins RangeToSpectrum rows
// further on and is RangeToEndSpectrum rows tall.  Columns LeftBound (inclusive)
// to RightBound (exclusive) are the spatial extent along the slit.
type CropWindow struct {
	GapCoord           int `yaml:"GapCoord"`
	RangeToSpectrum    int `yaml:"RangeToSpectrum"`
	RangeToEndSpectrum int `yaml:"RangeToEndSpectrum"`
	LeftBound          int `yaml:"LeftBound"`
	RightBound         int `yaml:"RightBound"`
}

// Rows returns the first and one-past-last spectral rows
func (c CropWindow) Rows() (int, int) {
	x1 := c.GapCoord + c.RangeToSpectrum
	return x1, x1 + c.RangeToEndSpectrum
}

// Shape returns the (spatial, channels) shape of a cropped layer
func (c CropWindow) Shape() (int, int) {
	return c.RightBound - c.LeftBound, c.RangeToEndSpectrum
}

// Check verifies the window is well formed, independent of any frame
func (c CropWindow) Check() error {
	x1, _ := c.Rows()
	if x1 < 0 || c.RangeToEndSpectrum <= 0 {
		return fmt.Errorf("%w: spectral rows [%d,%d) are empty or negative", ErrConfiguration, x1, x1+c.RangeToEndSpectrum)
	}
	if c.LeftBound < 0 || c.LeftBound >= c.RightBound {
		return fmt.Errorf("%w: spatial bounds [%d,%d) are empty or negative", ErrConfiguration, c.LeftBound, c.RightBound)
	}
	return nil
}

// Validate verifies the window fits a frame of rows x cols
func (c CropWindow) Validate(rows, cols int) error {
	if err := c.Check(); err != nil {
		return err
	}
	_, x2 := c.Rows()
	if x2 > rows || c.RightBound > cols {
		return fmt.Errorf("%w: window needs %dx%d, frame is %dx%d", ErrOutOfBounds, x2, c.RightBound, rows, cols)
	}
	return nil
}

// Layer is a cropped frame, row major over (spatial, channel)
type Layer struct {
	Spatial  int
	Channels int
	Data     []float64
}

// NewLayer returns a zero filled layer
func NewLayer(spatial, channels int) Layer {
	return Layer{Spatial: spatial, Channels: channels, Data: make([]float64, spatial*channels)}
}

// At returns the value at spatial y, channel z
func (l Layer) At(y, z int) float64 {
	return l.Data[y*l.Channels+z]
}

// Crop cuts the window out of f and transposes it so the spatial axis comes
// first.  The output shape depends only on the window.
func (c CropWindow) Crop(f camera.Frame) (Layer, error) {
	if err := f.Check(); err != nil {
		return Layer{}, err
	}
	if err := c.Validate(f.Height, f.Width); err != nil {
		return Layer{}, err
	}
	x1, _ := c.Rows()
	spatial, channels := c.Shape()
	l := NewLayer(spatial, channels)
	for ch := 0; ch < channels; ch++ {
		row := f.Pix[(x1+ch)*f.Width:]
		for y := 0; y < spatial; y++ {
			l.Data[y*channels+ch] = float64(row[c.LeftBound+y])
		}
	}
	return l, nil
}
