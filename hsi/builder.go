package hsi

import (
	"fmt"

	"github.com/hsilab/pushbroom/camera"
)

type strategyKind int

const (
	dynamic strategyKind = iota
	preallocated
)

// Strategy is how a builder grows its cube.  It is chosen once, when the
// builder is made.
type Strategy struct {
	kind  strategyKind
	total int
}

// Preallocated allocates the full cube for total steps on the first append
// and writes each layer into its slot.
func Preallocated(total int) Strategy {
	return Strategy{kind: preallocated, total: total}
}

// Dynamic grows the cube one layer at a time, for scans of unknown length.
func Dynamic() Strategy {
	return Strategy{kind: dynamic}
}

// Total returns the step count of a preallocated strategy and 0 otherwise
func (s Strategy) Total() int {
	return s.total
}

func (s Strategy) String() string {
	if s.kind == preallocated {
		return fmt.Sprintf("preallocated(%d)", s.total)
	}
	return "dynamic"
}

// Config holds the fixed parameters of cube assembly
type Config struct {
	// Crop locates the spectrum on the sensor
	Crop CropWindow `yaml:"Crop"`

	// Channels is the number of spectral channels the reference must provide.
	// Zero means the crop height.
	Channels int `yaml:"Channels"`

	// Red, Green, Blue are the channel indices used for RGB previews
	Red   int `yaml:"Red"`
	Green int `yaml:"Green"`
	Blue  int `yaml:"Blue"`

	// ReferenceRow is the row through the reference cube used for coefficients
	ReferenceRow int `yaml:"ReferenceRow"`

	// Normalize requests flat-field normalization.  It is an error to append
	// with Normalize set before coefficients are loaded.
	Normalize bool `yaml:"Normalize"`
}

func (c Config) channels() int {
	if c.Channels > 0 {
		return c.Channels
	}
	return c.Crop.RangeToEndSpectrum
}

// Builder turns raw frames into layers and layers into a cube
type Builder struct {
	cfg      Config
	strategy Strategy
	coef     *Coefficients
	cube     *Cube
}

// NewBuilder returns a builder using the given strategy for its lifetime
func NewBuilder(cfg Config, s Strategy) (*Builder, error) {
	if err := cfg.Crop.Check(); err != nil {
		return nil, err
	}
	if s.kind == preallocated && s.total <= 0 {
		return nil, fmt.Errorf("%w: preallocated cube needs a positive step count, got %d", ErrConfiguration, s.total)
	}
	return &Builder{cfg: cfg, strategy: s}, nil
}

// Config returns the builder's configuration
func (b *Builder) Config() Config {
	return b.cfg
}

// Strategy returns the growth strategy
func (b *Builder) Strategy() Strategy {
	return b.strategy
}

// SetNormalization derives coefficients from row ReferenceRow of ref and
// enables normalization.  The reference must run the width of the crop
// window along the slit.
func (b *Builder) SetNormalization(ref *Cube, thresh float64) (*Coefficients, error) {
	line, err := ReferenceLine(ref, b.cfg.ReferenceRow)
	if err != nil {
		return nil, err
	}
	if spatial, _ := b.cfg.Crop.Shape(); line.Spatial != spatial {
		return nil, fmt.Errorf("%w: reference is %d wide along the slit, crop window is %d", ErrInvalidReference, line.Spatial, spatial)
	}
	coef, err := NewCoefficients(line, b.cfg.channels(), thresh)
	if err != nil {
		return nil, err
	}
	b.coef = coef
	b.cfg.Normalize = true
	return coef, nil
}

// SetCoefficients installs precomputed coefficients and enables
// normalization.  nil disables it.
func (b *Builder) SetCoefficients(c *Coefficients) {
	b.coef = c
	b.cfg.Normalize = c != nil
}

// Coefficients returns the coefficients in use, if any
func (b *Builder) Coefficients() *Coefficients {
	return b.coef
}

// Crop applies the crop window to f
func (b *Builder) Crop(f camera.Frame) (Layer, error) {
	return b.cfg.Crop.Crop(f)
}

// Normalize divides l by the coefficients when normalization is requested
// and returns l unchanged when it is not
func (b *Builder) Normalize(l Layer) (Layer, error) {
	if !b.cfg.Normalize {
		return l, nil
	}
	if b.coef == nil {
		return Layer{}, fmt.Errorf("%w: normalization requested but no coefficients loaded", ErrConfiguration)
	}
	return b.coef.Apply(l)
}

// Prepare crops and normalizes a frame
func (b *Builder) Prepare(f camera.Frame) (Layer, error) {
	l, err := b.Crop(f)
	if err != nil {
		return Layer{}, err
	}
	return b.Normalize(l)
}

// AppendPreallocated writes the layer prepared from f at stepIndex.  The
// first call allocates a zeroed cube of totalSteps layers.
func (b *Builder) AppendPreallocated(f camera.Frame, stepIndex, totalSteps int) error {
	if b.strategy.kind != preallocated || b.strategy.total != totalSteps {
		return fmt.Errorf("%w: builder is %s, asked for preallocated(%d)", ErrStrategy, b.strategy, totalSteps)
	}
	if stepIndex < 0 || stepIndex >= totalSteps {
		return fmt.Errorf("%w: step %d outside [0,%d)", ErrInvalidArgument, stepIndex, totalSteps)
	}
	l, err := b.Prepare(f)
	if err != nil {
		return err
	}
	if b.cube == nil {
		b.cube = NewCube(totalSteps, l.Spatial, l.Channels)
	}
	return b.cube.setLayer(stepIndex, l)
}

// AppendDynamic appends the layer prepared from f after the last one
func (b *Builder) AppendDynamic(f camera.Frame) error {
	if b.strategy.kind != dynamic {
		return fmt.Errorf("%w: builder is %s, asked for dynamic", ErrStrategy, b.strategy)
	}
	l, err := b.Prepare(f)
	if err != nil {
		return err
	}
	if b.cube == nil {
		b.cube = &Cube{}
	}
	return b.cube.appendLayer(l)
}

// Append adds f as step index using the builder's strategy.  Dynamic cubes
// only accept the next index in sequence.
func (b *Builder) Append(f camera.Frame, index int) error {
	if b.strategy.kind == preallocated {
		return b.AppendPreallocated(f, index, b.strategy.total)
	}
	if next := b.Steps(); index != next {
		return fmt.Errorf("%w: dynamic cube expects step %d, got %d", ErrInvalidArgument, next, index)
	}
	return b.AppendDynamic(f)
}

// Steps returns the number of layers held.  For a preallocated cube this is
// the full step count once the first layer is written.
func (b *Builder) Steps() int {
	if b.cube == nil {
		return 0
	}
	return b.cube.Steps
}

// Cube returns the cube under construction, nil before the first append
func (b *Builder) Cube() *Cube {
	return b.cube
}

// Reset drops the cube so the builder can serve another scan.  Coefficients
// are kept.
func (b *Builder) Reset() {
	b.cube = nil
}

// ToRGB selects the red, green and blue channels as a 3 channel cube.  There
// is no color transform.
func (b *Builder) ToRGB() (*Cube, error) {
	if b.cube == nil {
		return nil, fmt.Errorf("%w: no cube", ErrInvalidArgument)
	}
	rgb, err := b.cube.SelectChannels([]int{b.cfg.Red, b.cfg.Green, b.cfg.Blue})
	if err != nil {
		return nil, fmt.Errorf("%w: rgb channels: %v", ErrConfiguration, err)
	}
	return rgb, nil
}
