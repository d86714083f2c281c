package hsi_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/hsi"
)

func filledFrame(width, height int, v uint16) camera.Frame {
	f := camera.NewFrame(width, height)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// rampFrame encodes the position of each sample in its value
func rampFrame(width, height, seed int) camera.Frame {
	f := camera.NewFrame(width, height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			f.Set(row, col, uint16((row*width+col+seed)%65536))
		}
	}
	return f
}

func filledCube(steps, spatial, channels int, v float64) *hsi.Cube {
	c := hsi.NewCube(steps, spatial, channels)
	for i := range c.Data {
		c.Data[i] = v
	}
	return c
}

var scenarioWindow = hsi.CropWindow{GapCoord: 10, RangeToSpectrum: 5, RangeToEndSpectrum: 20, LeftBound: 0, RightBound: 8}

func ExampleSpacedChannels() {
	fmt.Println(hsi.SpacedChannels(25, 5))
	fmt.Println(hsi.SpacedChannels(10, 4))
	// Output:
	// [0 5 10 15 20]
	// [0 2 5 7]
}

func TestCropShapeDependsOnlyOnWindow(t *testing.T) {
	windows := []hsi.CropWindow{
		scenarioWindow,
		{GapCoord: 0, RangeToSpectrum: 0, RangeToEndSpectrum: 1, LeftBound: 0, RightBound: 1},
		{GapCoord: 3, RangeToSpectrum: 2, RangeToEndSpectrum: 40, LeftBound: 17, RightBound: 99},
	}
	frames := []camera.Frame{filledFrame(100, 100, 7), rampFrame(120, 64, 3)}
	for _, w := range windows {
		for _, f := range frames {
			l, err := w.Crop(f)
			if err != nil {
				t.Fatalf("crop %+v on %dx%d: %v", w, f.Height, f.Width, err)
			}
			if l.Spatial != w.RightBound-w.LeftBound || l.Channels != w.RangeToEndSpectrum {
				t.Errorf("window %+v gave layer %dx%d", w, l.Spatial, l.Channels)
			}
			if len(l.Data) != l.Spatial*l.Channels {
				t.Errorf("layer holds %d values, expected %d", len(l.Data), l.Spatial*l.Channels)
			}
		}
	}
}

func TestCropTransposes(t *testing.T) {
	const width = 50
	f := rampFrame(width, 40, 0)
	w := hsi.CropWindow{GapCoord: 4, RangeToSpectrum: 2, RangeToEndSpectrum: 10, LeftBound: 5, RightBound: 25}
	l, err := w.Crop(f)
	if err != nil {
		t.Fatal(err)
	}
	x1, _ := w.Rows()
	for y := 0; y < l.Spatial; y++ {
		for ch := 0; ch < l.Channels; ch++ {
			expected := float64((x1+ch)*width + w.LeftBound + y)
			if got := l.At(y, ch); got != expected {
				t.Fatalf("layer[%d,%d] = %f, expected %f", y, ch, got, expected)
			}
		}
	}
}

func TestCropOutOfBounds(t *testing.T) {
	f := filledFrame(10, 30, 1)
	cases := []hsi.CropWindow{
		{GapCoord: 10, RangeToSpectrum: 5, RangeToEndSpectrum: 20, LeftBound: 0, RightBound: 8},
		{GapCoord: 0, RangeToSpectrum: 0, RangeToEndSpectrum: 5, LeftBound: 0, RightBound: 11},
	}
	for _, w := range cases {
		_, err := w.Crop(f)
		if !errors.Is(err, hsi.ErrOutOfBounds) {
			t.Errorf("expected ErrOutOfBounds for %+v, got %v", w, err)
		}
		if !errors.Is(err, hsi.ErrConfiguration) {
			t.Errorf("ErrOutOfBounds should be a configuration error, got %v", err)
		}
	}
}

func TestCropRejectsShortPixelBuffer(t *testing.T) {
	w := hsi.CropWindow{GapCoord: 0, RangeToSpectrum: 1, RangeToEndSpectrum: 2, LeftBound: 0, RightBound: 4}
	f := camera.Frame{Width: 4, Height: 4, Pix: make([]uint16, 8)}
	_, err := w.Crop(f)
	if !errors.Is(err, camera.ErrCaptureFailed) {
		t.Errorf("expected ErrCaptureFailed for a 4x4 frame holding 8 samples, got %v", err)
	}
}

func TestMalformedWindowRejected(t *testing.T) {
	cases := []hsi.CropWindow{
		{RangeToEndSpectrum: 0, LeftBound: 0, RightBound: 8},
		{RangeToEndSpectrum: 5, LeftBound: 8, RightBound: 8},
		{RangeToEndSpectrum: 5, LeftBound: -1, RightBound: 8},
		{GapCoord: -10, RangeToEndSpectrum: 5, LeftBound: 0, RightBound: 8},
	}
	for _, w := range cases {
		_, err := hsi.NewBuilder(hsi.Config{Crop: w}, hsi.Dynamic())
		if !errors.Is(err, hsi.ErrConfiguration) {
			t.Errorf("expected configuration error for %+v, got %v", w, err)
		}
	}
}

func TestNormalizationScenario(t *testing.T) {
	b, err := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, ReferenceRow: hsi.DefaultReferenceRow}, hsi.Dynamic())
	if err != nil {
		t.Fatal(err)
	}
	ref := filledCube(8, 10, 20, 50)
	coef, err := b.SetNormalization(ref, 100)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range coef.Data {
		if c != 0.5 {
			t.Fatalf("coefficient %d = %f, expected 0.5", i, c)
		}
	}
	l, err := b.Prepare(filledFrame(100, 100, 200))
	if err != nil {
		t.Fatal(err)
	}
	if l.Spatial != 8 || l.Channels != 20 {
		t.Fatalf("layer is %dx%d, expected 8x20", l.Spatial, l.Channels)
	}
	for i, v := range l.Data {
		if v != 400 {
			t.Fatalf("normalized value %d = %f, expected 400", i, v)
		}
	}
}

func TestOnesAreIdentityButNormalizationIsNotIdempotent(t *testing.T) {
	l, err := scenarioWindow.Crop(rampFrame(100, 100, 1))
	if err != nil {
		t.Fatal(err)
	}
	ones, err := hsi.NewCoefficients(hsi.Layer{Spatial: 8, Channels: 20, Data: filledCube(1, 8, 20, 1).Data}, 20, 1)
	if err != nil {
		t.Fatal(err)
	}
	once, err := ones.Apply(l)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(l, once); diff != "" {
		t.Errorf("all-ones coefficients changed the layer (-want +got):\n%s", diff)
	}

	halves, _ := hsi.NewCoefficients(hsi.Layer{Spatial: 8, Channels: 20, Data: filledCube(1, 8, 20, 50).Data}, 20, 100)
	n1, _ := halves.Apply(l)
	n2, _ := halves.Apply(n1)
	if cmp.Equal(n1, n2) {
		t.Error("expected a second application of 0.5 coefficients to change the layer")
	}
}

func TestZeroCoefficientsAreApplied(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Dynamic())
	b.SetCoefficients(&hsi.Coefficients{Spatial: 8, Channels: 20, Data: make([]float64, 160)})
	l, err := b.Prepare(filledFrame(100, 100, 200))
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range l.Data {
		if !math.IsInf(v, 1) {
			t.Fatalf("expected +Inf from zero coefficients, got %f", v)
		}
	}
}

func TestNormalizeWithoutCoefficients(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Dynamic())
	l, err := b.Prepare(filledFrame(100, 100, 200))
	if err != nil {
		t.Fatal(err)
	}
	if l.Data[0] != 200 {
		t.Errorf("expected pass-through without normalization, got %f", l.Data[0])
	}

	b, _ = hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, Normalize: true}, hsi.Dynamic())
	_, err = b.Prepare(filledFrame(100, 100, 200))
	if !errors.Is(err, hsi.ErrConfiguration) {
		t.Errorf("expected configuration error when normalization is requested without coefficients, got %v", err)
	}
}

func TestReferenceTooFewChannels(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, Channels: 20, ReferenceRow: 5}, hsi.Dynamic())
	_, err := b.SetNormalization(filledCube(8, 10, 12, 50), 100)
	if !errors.Is(err, hsi.ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
	_, err = b.SetNormalization(filledCube(8, 3, 20, 50), 100)
	if !errors.Is(err, hsi.ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference for a missing reference row, got %v", err)
	}
	if b.Coefficients() != nil {
		t.Error("failed SetNormalization must not install coefficients")
	}
}

func TestReferenceWidthMustMatchCrop(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, ReferenceRow: 0}, hsi.Dynamic())
	for _, width := range []int{6, 30} {
		_, err := b.SetNormalization(filledCube(width, 1, 20, 50), 100)
		if !errors.Is(err, hsi.ErrInvalidReference) {
			t.Errorf("expected ErrInvalidReference for a %d wide reference on an 8 wide crop, got %v", width, err)
		}
	}
	if b.Coefficients() != nil || b.Config().Normalize {
		t.Error("a rejected reference must leave normalization off")
	}
}

func TestCoefficientShapeMismatch(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Dynamic())
	b.SetCoefficients(&hsi.Coefficients{Spatial: 6, Channels: 20, Data: make([]float64, 120)})
	err := b.AppendDynamic(filledFrame(100, 100, 200))
	if !errors.Is(err, hsi.ErrConfiguration) {
		t.Errorf("expected configuration error for 6-wide coefficients on an 8-wide layer, got %v", err)
	}
}

func TestStrategiesProduceIdenticalCubes(t *testing.T) {
	cfg := hsi.Config{Crop: scenarioWindow, ReferenceRow: 2}
	pre, _ := hsi.NewBuilder(cfg, hsi.Preallocated(5))
	dyn, _ := hsi.NewBuilder(cfg, hsi.Dynamic())
	ref := hsi.NewCube(8, 4, 20)
	for i := range ref.Data {
		ref.Data[i] = float64(i%13 + 1)
	}
	if _, err := pre.SetNormalization(ref, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := dyn.SetNormalization(ref, 100); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		f := rampFrame(100, 100, i*31)
		if err := pre.AppendPreallocated(f, i, 5); err != nil {
			t.Fatal(err)
		}
		if err := dyn.AppendDynamic(f); err != nil {
			t.Fatal(err)
		}
		if dyn.Steps() != i+1 {
			t.Errorf("dynamic cube has %d steps after %d appends", dyn.Steps(), i+1)
		}
	}
	if diff := cmp.Diff(pre.Cube(), dyn.Cube()); diff != "" {
		t.Errorf("strategies disagree (-pre +dyn):\n%s", diff)
	}
	if pre.Cube().Shape() != [3]int{5, 8, 20} {
		t.Errorf("unexpected shape %v", pre.Cube().Shape())
	}
}

func TestPreallocatedLeavesUnwrittenStepsZero(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Preallocated(4))
	if err := b.AppendPreallocated(filledFrame(100, 100, 9), 2, 4); err != nil {
		t.Fatal(err)
	}
	for x := 0; x < 4; x++ {
		l, _ := b.Cube().Layer(x)
		want := 0.
		if x == 2 {
			want = 9
		}
		if l.Data[0] != want {
			t.Errorf("step %d holds %f, expected %f", x, l.Data[0], want)
		}
	}
	err := b.AppendPreallocated(filledFrame(100, 100, 9), 4, 4)
	if !errors.Is(err, hsi.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for step 4 of 4, got %v", err)
	}
}

func TestStrategyMismatchRejected(t *testing.T) {
	f := filledFrame(100, 100, 1)
	dyn, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Dynamic())
	if err := dyn.AppendPreallocated(f, 0, 3); !errors.Is(err, hsi.ErrStrategy) {
		t.Errorf("expected ErrStrategy, got %v", err)
	}
	pre, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Preallocated(3))
	if err := pre.AppendDynamic(f); !errors.Is(err, hsi.ErrStrategy) {
		t.Errorf("expected ErrStrategy, got %v", err)
	}
	if err := pre.AppendPreallocated(f, 0, 4); !errors.Is(err, hsi.ErrStrategy) {
		t.Errorf("expected ErrStrategy for a different step count, got %v", err)
	}
	if pre.Cube() != nil || dyn.Cube() != nil {
		t.Error("rejected appends must not allocate a cube")
	}
	if _, err := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Preallocated(0)); !errors.Is(err, hsi.ErrConfiguration) {
		t.Errorf("expected configuration error for zero preallocated steps, got %v", err)
	}
}

func TestAppendDispatch(t *testing.T) {
	dyn, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow}, hsi.Dynamic())
	if err := dyn.Append(filledFrame(100, 100, 1), 0); err != nil {
		t.Fatal(err)
	}
	if err := dyn.Append(filledFrame(100, 100, 1), 2); !errors.Is(err, hsi.ErrInvalidArgument) {
		t.Errorf("expected out of sequence append to fail, got %v", err)
	}
	dyn.Reset()
	if dyn.Cube() != nil || dyn.Steps() != 0 {
		t.Error("reset should drop the cube")
	}
}

func TestToRGB(t *testing.T) {
	b, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, Red: 15, Green: 10, Blue: 2}, hsi.Dynamic())
	if _, err := b.ToRGB(); !errors.Is(err, hsi.ErrInvalidArgument) {
		t.Errorf("expected error on empty builder, got %v", err)
	}
	if err := b.AppendDynamic(rampFrame(100, 100, 0)); err != nil {
		t.Fatal(err)
	}
	rgb, err := b.ToRGB()
	if err != nil {
		t.Fatal(err)
	}
	if rgb.Shape() != [3]int{1, 8, 3} {
		t.Fatalf("rgb shape %v", rgb.Shape())
	}
	src := b.Cube()
	for y := 0; y < 8; y++ {
		for k, z := range []int{15, 10, 2} {
			if rgb.At(0, y, k) != src.At(0, y, z) {
				t.Errorf("rgb[0,%d,%d] != cube[0,%d,%d]", y, k, y, z)
			}
		}
	}
	bad, _ := hsi.NewBuilder(hsi.Config{Crop: scenarioWindow, Red: 20}, hsi.Dynamic())
	bad.AppendDynamic(rampFrame(100, 100, 0))
	if _, err := bad.ToRGB(); !errors.Is(err, hsi.ErrConfiguration) {
		t.Errorf("expected configuration error for red channel 20 of 20, got %v", err)
	}
}

func TestDownsampleSameCountIsEqual(t *testing.T) {
	c := hsi.NewCube(3, 4, 25)
	for i := range c.Data {
		c.Data[i] = float64(i)
	}
	out, err := c.DownsampleChannels(25)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, out); diff != "" {
		t.Errorf("downsample to the same count changed the cube:\n%s", diff)
	}
}

func TestDownsampleFewer(t *testing.T) {
	c := hsi.NewCube(2, 3, 25)
	for x := 0; x < 2; x++ {
		for y := 0; y < 3; y++ {
			for z := 0; z < 25; z++ {
				c.Set(x, y, z, float64(z))
			}
		}
	}
	for _, target := range []int{1, 3, 7, 24} {
		out, err := c.DownsampleChannels(target)
		if err != nil {
			t.Fatal(err)
		}
		if out.Shape() != [3]int{2, 3, target} {
			t.Errorf("target %d gave shape %v", target, out.Shape())
		}
		for k := 0; k < target; k++ {
			z := int(out.At(1, 2, k))
			if z >= 25 || z != k*25/target {
				t.Errorf("target %d channel %d came from %d", target, k, z)
			}
		}
	}
}

func TestDownsampleTooManyLeavesCubeUnchanged(t *testing.T) {
	c := filledCube(2, 3, 25, 4)
	before := c.Clone()
	out, err := c.DownsampleChannels(40)
	if !errors.Is(err, hsi.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if out != nil {
		t.Error("expected no cube on error")
	}
	if diff := cmp.Diff(before, c); diff != "" {
		t.Errorf("source cube mutated:\n%s", diff)
	}
}

func TestChannelAndLayerViews(t *testing.T) {
	c := hsi.NewCube(2, 3, 4)
	for i := range c.Data {
		c.Data[i] = float64(i)
	}
	ch, err := c.Channel(1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 5, 9, 13, 17, 21}
	if diff := cmp.Diff(want, ch); diff != "" {
		t.Errorf("channel 1 (-want +got):\n%s", diff)
	}
	if _, err := c.Channel(4); !errors.Is(err, hsi.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	l, err := c.Layer(1)
	if err != nil {
		t.Fatal(err)
	}
	if l.At(0, 0) != 12 || l.At(2, 3) != 23 {
		t.Errorf("layer 1 has wrong contents: %v", l.Data)
	}
}
