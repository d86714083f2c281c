package hsi

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// DefaultReferenceRow is the row through the reference cube used as the
// flat-field line
const DefaultReferenceRow = 5

// Coefficients are flat-field factors aligned with a cropped layer.  Each is
// the reference intensity over the target intensity, so dividing a layer by
// them evens out illumination along the slit.
type Coefficients struct {
	Spatial  int
	Channels int
	Data     []float64
}

// ReferenceLine extracts ref[:, row, :] as a layer.  The reference is a
// recording of a uniform target and its first axis runs along the slit.
func ReferenceLine(ref *Cube, row int) (Layer, error) {
	if ref == nil || ref.Steps == 0 {
		return Layer{}, fmt.Errorf("%w: empty reference", ErrInvalidReference)
	}
	if row < 0 || row >= ref.Spatial {
		return Layer{}, fmt.Errorf("%w: row %d outside [0,%d)", ErrInvalidReference, row, ref.Spatial)
	}
	l := NewLayer(ref.Steps, ref.Channels)
	for s := 0; s < ref.Steps; s++ {
		copy(l.Data[s*ref.Channels:(s+1)*ref.Channels], ref.Data[ref.index(s, row, 0):ref.index(s, row, ref.Channels)])
	}
	return l, nil
}

// NewCoefficients computes line[s, c] / thresh for the first channels
// channels of line.
func NewCoefficients(line Layer, channels int, thresh float64) (*Coefficients, error) {
	if line.Channels < channels {
		return nil, fmt.Errorf("%w: reference has %d channels, %d configured", ErrInvalidReference, line.Channels, channels)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidArgument, channels)
	}
	if thresh == 0 {
		return nil, fmt.Errorf("%w: threshold must be nonzero", ErrInvalidArgument)
	}
	coef := &Coefficients{Spatial: line.Spatial, Channels: channels, Data: make([]float64, line.Spatial*channels)}
	for s := 0; s < line.Spatial; s++ {
		for c := 0; c < channels; c++ {
			coef.Data[s*channels+c] = line.At(s, c) / thresh
		}
	}
	return coef, nil
}

// Apply divides l elementwise by the coefficients and returns a new layer.
func (c *Coefficients) Apply(l Layer) (Layer, error) {
	if l.Spatial != c.Spatial || l.Channels != c.Channels {
		return Layer{}, fmt.Errorf("%w: coefficients are %dx%d, layer is %dx%d",
			ErrConfiguration, c.Spatial, c.Channels, l.Spatial, l.Channels)
	}
	out := NewLayer(l.Spatial, l.Channels)
	floats.DivTo(out.Data, l.Data, c.Data)
	return out, nil
}
