/*Package cubeio reads and writes hyperspectral cubes.

Two interchange formats are supported:

	.fits  a single double precision (BITPIX=-64) image with axes
	       NAXIS1=channels, NAXIS2=spatial, NAXIS3=steps
	.mat   a MATLAB level 5 MAT-file holding one double matrix of size
	       steps x spatial x channels under a variable name

Both round trip the shape and values of a cube exactly.  Save and Load pick the
format from the file extension.
*/
package cubeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/hsilab/pushbroom/hsi"
)

// DefaultKey is the variable name used for .mat files when none is given
const DefaultKey = "cube"

var (
	// ErrUnknownExtension is generated when a path is neither .fits nor .mat
	ErrUnknownExtension = errors.New("unknown cube file extension, must be .fits or .mat")

	// ErrNotCube is generated when a file holds data that is not a cube
	ErrNotCube = errors.New("file does not contain a cube")
)

// Format returns "fits" or "mat" for a path, or ErrUnknownExtension
func Format(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return "fits", nil
	case ".mat":
		return "mat", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownExtension, path)
}

// Save writes c to path in the format implied by its extension.  key names the
// variable in a .mat file and is ignored for FITS.  cards are added to the
// header of a FITS file and ignored for .mat.
func Save(path string, c *hsi.Cube, key string, cards ...fitsio.Card) error {
	format, err := Format(path)
	if err != nil {
		return err
	}
	if key == "" {
		key = DefaultKey
	}
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	if format == "fits" {
		err = WriteFITS(fid, c, cards...)
	} else {
		err = WriteMAT(fid, c, key)
	}
	cerr := fid.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// Load reads a cube from path.  For .mat files key selects the variable; an
// empty key takes the first numeric matrix in the file.
func Load(path, key string) (*hsi.Cube, error) {
	format, err := Format(path)
	if err != nil {
		return nil, err
	}
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()
	if format == "fits" {
		return ReadFITS(fid)
	}
	return ReadMAT(fid, key)
}
