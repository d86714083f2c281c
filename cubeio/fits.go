package cubeio

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"github.com/hsilab/pushbroom/hsi"
)

// WriteFITS streams c to w as a 3D double precision image
func WriteFITS(w io.Writer, c *hsi.Cube, cards ...fitsio.Card) error {
	if c == nil || c.Steps*c.Spatial*c.Channels == 0 {
		return fmt.Errorf("%w: empty cube", ErrNotCube)
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{c.Channels, c.Spatial, c.Steps})
	defer im.Close()
	if len(cards) > 0 {
		if err = im.Header().Append(cards...); err != nil {
			return err
		}
	}
	// row major (step, spatial, channel) is already FITS order with channel fastest
	if err = im.Write(c.Data); err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS decodes the primary image of a FITS file as a cube.  Single and
// double precision images are accepted; a 2D image is a cube of one step.
func ReadFITS(r io.Reader) (*hsi.Cube, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%w: primary HDU is not an image", ErrNotCube)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	var channels, spatial, steps int
	switch len(axes) {
	case 2:
		channels, spatial, steps = axes[0], axes[1], 1
	case 3:
		channels, spatial, steps = axes[0], axes[1], axes[2]
	default:
		return nil, fmt.Errorf("%w: image has %d axes", ErrNotCube, len(axes))
	}
	c := hsi.NewCube(steps, spatial, channels)
	switch hdr.Bitpix() {
	case -64:
		var buf []float64
		if err = img.Read(&buf); err != nil {
			return nil, err
		}
		copy(c.Data, buf)
	case -32:
		var buf []float32
		if err = img.Read(&buf); err != nil {
			return nil, err
		}
		for i, v := range buf {
			c.Data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%w: BITPIX %d is not floating point", ErrNotCube, hdr.Bitpix())
	}
	return c, nil
}
