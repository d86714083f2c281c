package camera

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFITS streams a frame to w as a 16-bit FITS image.  FITS has no
// unsigned 16-bit type, so samples are shifted by BZERO=32768.
func WriteFITS(w io.Writer, f Frame, metadata []fitsio.Card) error {
	if err := f.Check(); err != nil {
		return err
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{f.Width, f.Height})
	defer im.Close()
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	bufOut := make([]int16, len(f.Pix))
	for idx, v := range f.Pix {
		bufOut[idx] = int16(int32(v) - 32768)
	}
	err = im.Write(bufOut)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS decodes the primary image of a FITS file into a frame.  Integer
// images of 8, 16, or 32 bits are accepted; BZERO is honored.
func ReadFITS(r io.Reader) (Frame, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return Frame{}, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return Frame{}, fmt.Errorf("%w: primary HDU is not an image", ErrCaptureFailed)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 {
		return Frame{}, fmt.Errorf("%w: expected a 2D image, got %d axes", ErrCaptureFailed, len(axes))
	}
	zero := cardFloat(hdr, "BZERO")
	f := NewFrame(axes[0], axes[1])
	switch hdr.Bitpix() {
	case 8:
		var buf []uint8
		if err = img.Read(&buf); err != nil {
			return Frame{}, err
		}
		for idx, v := range buf {
			f.Pix[idx] = clampU16(float64(v) + zero)
		}
	case 16:
		var buf []int16
		if err = img.Read(&buf); err != nil {
			return Frame{}, err
		}
		for idx, v := range buf {
			f.Pix[idx] = clampU16(float64(v) + zero)
		}
	case 32:
		var buf []int32
		if err = img.Read(&buf); err != nil {
			return Frame{}, err
		}
		for idx, v := range buf {
			f.Pix[idx] = clampU16(float64(v) + zero)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unsupported BITPIX %d", ErrCaptureFailed, hdr.Bitpix())
	}
	return f, nil
}

func cardFloat(hdr *fitsio.Header, name string) float64 {
	card := hdr.Get(name)
	if card == nil {
		return 0
	}
	switch v := card.Value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
