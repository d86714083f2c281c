/*Package hsi assembles hyperspectral cubes from the raw frames of a push-broom
scanner.

Each raw frame holds the image of the spectrometer slit: one axis runs along
the slit (spatial) and the other across the dispersed spectrum (spectral).  A
Builder crops the spectrum out of each frame, optionally divides it by
flat-field coefficients, and appends it to a Cube as one layer.  Successive
layers are successive scan steps, so the cube axes are (step, spatial,
channel).

A Builder is not safe for concurrent use; the scanner drives it from a single
goroutine.

*/
package hsi

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the parent of all errors caused by an invalid setup,
	// such as a crop window that does not fit the sensor
	ErrConfiguration = errors.New("hsi: configuration error")

	// ErrInvalidReference is generated when the normalization reference does not
	// have enough channels or the reference row is out of range
	ErrInvalidReference = fmt.Errorf("%w: invalid normalization reference", ErrConfiguration)

	// ErrOutOfBounds is generated when the crop window exceeds a frame
	ErrOutOfBounds = fmt.Errorf("%w: crop window exceeds frame", ErrConfiguration)

	// ErrStrategy is generated when a builder is asked to grow its cube with a
	// strategy other than the one it was created with
	ErrStrategy = fmt.Errorf("%w: cube growth strategy mismatch", ErrConfiguration)

	// ErrShapeMismatch is generated when a layer does not have the shape fixed
	// by the cube
	ErrShapeMismatch = errors.New("hsi: layer shape does not match cube")

	// ErrInvalidArgument is generated for out of range indices and channel counts
	ErrInvalidArgument = errors.New("hsi: invalid argument")
)

// Cube is a hyperspectral cube.  Data is row major over (step, spatial,
// channel), so the channel index varies fastest.
type Cube struct {
	Steps    int
	Spatial  int
	Channels int
	Data     []float64
}

// NewCube returns a zero filled cube
func NewCube(steps, spatial, channels int) *Cube {
	return &Cube{
		Steps:    steps,
		Spatial:  spatial,
		Channels: channels,
		Data:     make([]float64, steps*spatial*channels)}
}

// Shape returns (steps, spatial, channels)
func (c *Cube) Shape() [3]int {
	return [3]int{c.Steps, c.Spatial, c.Channels}
}

func (c *Cube) index(x, y, z int) int {
	return (x*c.Spatial+y)*c.Channels + z
}

// At returns the value at step x, spatial y, channel z
func (c *Cube) At(x, y, z int) float64 {
	return c.Data[c.index(x, y, z)]
}

// Set sets the value at step x, spatial y, channel z
func (c *Cube) Set(x, y, z int, v float64) {
	c.Data[c.index(x, y, z)] = v
}

// Clone returns a deep copy
func (c *Cube) Clone() *Cube {
	out := &Cube{Steps: c.Steps, Spatial: c.Spatial, Channels: c.Channels, Data: make([]float64, len(c.Data))}
	copy(out.Data, c.Data)
	return out
}

// Layer returns a copy of the layer at step x
func (c *Cube) Layer(x int) (Layer, error) {
	if x < 0 || x >= c.Steps {
		return Layer{}, fmt.Errorf("%w: step %d outside [0,%d)", ErrInvalidArgument, x, c.Steps)
	}
	n := c.Spatial * c.Channels
	l := NewLayer(c.Spatial, c.Channels)
	copy(l.Data, c.Data[x*n:(x+1)*n])
	return l, nil
}

// Channel returns a copy of one channel as a (step, spatial) row major image
func (c *Cube) Channel(z int) ([]float64, error) {
	if z < 0 || z >= c.Channels {
		return nil, fmt.Errorf("%w: channel %d outside [0,%d)", ErrInvalidArgument, z, c.Channels)
	}
	out := make([]float64, c.Steps*c.Spatial)
	for x := 0; x < c.Steps; x++ {
		for y := 0; y < c.Spatial; y++ {
			out[x*c.Spatial+y] = c.At(x, y, z)
		}
	}
	return out, nil
}

// SelectChannels copies the listed channels, in order, into a new cube
func (c *Cube) SelectChannels(idx []int) (*Cube, error) {
	for _, z := range idx {
		if z < 0 || z >= c.Channels {
			return nil, fmt.Errorf("%w: channel %d outside [0,%d)", ErrInvalidArgument, z, c.Channels)
		}
	}
	out := NewCube(c.Steps, c.Spatial, len(idx))
	for x := 0; x < c.Steps; x++ {
		for y := 0; y < c.Spatial; y++ {
			src := c.index(x, y, 0)
			dst := out.index(x, y, 0)
			for k, z := range idx {
				out.Data[dst+k] = c.Data[src+z]
			}
		}
	}
	return out, nil
}

// SpacedChannels returns target channel indices spread evenly over n
// channels, floor(i*n/target) for i in [0,target)
func SpacedChannels(n, target int) []int {
	idx := make([]int, target)
	for i := range idx {
		idx[i] = i * n / target
	}
	return idx
}

// DownsampleChannels reduces a hyperspectral cube to a multispectral one with
// target evenly spaced channels.  The receiver is never modified.
func (c *Cube) DownsampleChannels(target int) (*Cube, error) {
	if target <= 0 || target > c.Channels {
		return nil, fmt.Errorf("%w: cannot reduce %d channels to %d", ErrInvalidArgument, c.Channels, target)
	}
	return c.SelectChannels(SpacedChannels(c.Channels, target))
}

// appendLayer grows the cube by one step
func (c *Cube) appendLayer(l Layer) error {
	if c.Steps > 0 && (l.Spatial != c.Spatial || l.Channels != c.Channels) {
		return shapeErr(c, l)
	}
	c.Spatial, c.Channels = l.Spatial, l.Channels
	c.Data = append(c.Data, l.Data...)
	c.Steps++
	return nil
}

// setLayer overwrites the layer at step x
func (c *Cube) setLayer(x int, l Layer) error {
	if l.Spatial != c.Spatial || l.Channels != c.Channels {
		return shapeErr(c, l)
	}
	n := c.Spatial * c.Channels
	copy(c.Data[x*n:(x+1)*n], l.Data)
	return nil
}

func shapeErr(c *Cube, l Layer) error {
	return fmt.Errorf("%w: cube layers are %dx%d, got %dx%d",
		ErrShapeMismatch, c.Spatial, c.Channels, l.Spatial, l.Channels)
}
