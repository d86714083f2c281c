package camera

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Simulator is a software camera that renders the image of a slit
// spectrometer: a bright spectrum band below a slit line, modulated along the
// spatial axis.  It is used when the scanner runs with Mock: true.
type Simulator struct {
	sync.Mutex

	// Width and Height are the sensor dimensions
	Width, Height int

	// SlitRow is the row of the slit image; the spectrum starts SpectrumOffset
	// rows below it and is SpectrumRows tall
	SlitRow, SpectrumOffset, SpectrumRows int

	// Readout is how long a capture takes on top of the exposure
	Readout time.Duration

	exposure time.Duration
	gain     int
	shot     int
	rng      *rand.Rand
}

// NewSimulator returns a simulated camera with a spectrum band matching the
// default crop window
func NewSimulator(width, height int) *Simulator {
	return &Simulator{
		Width:          width,
		Height:         height,
		SlitRow:        height / 10,
		SpectrumOffset: height / 20,
		SpectrumRows:   height / 2,
		rng:            rand.New(rand.NewSource(1))}
}

// Configure stores the exposure and gain, which scale the simulated signal
func (s *Simulator) Configure(exposure time.Duration, gain int) error {
	s.Lock()
	defer s.Unlock()
	s.exposure = exposure
	s.gain = gain
	return nil
}

// Capture renders one frame.  Each call advances the simulated scene by one
// scan line, so successive frames differ.
func (s *Simulator) Capture() (Frame, error) {
	s.Lock()
	defer s.Unlock()
	if s.Readout > 0 {
		time.Sleep(s.Readout)
	}
	f := NewFrame(s.Width, s.Height)
	scale := 1 + float64(s.gain)/10
	texp := s.exposure.Seconds() * 1e3 // ms
	if texp <= 0 {
		texp = 1
	}
	line := float64(s.shot)
	top := s.SlitRow + s.SpectrumOffset
	for col := 0; col < s.Width; col++ {
		f.Set(s.SlitRow, col, 60000)
		scene := 0.5 + 0.5*math.Sin(float64(col)/17+line/11)
		for row := top; row < top+s.SpectrumRows && row < s.Height; row++ {
			// gaussian envelope across the spectral axis
			u := float64(row-top)/float64(s.SpectrumRows) - 0.5
			env := math.Exp(-u * u * 8)
			v := 200*texp*scale*env*scene + s.rng.Float64()*4
			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			f.Set(row, col, uint16(v))
		}
	}
	s.shot++
	return f, nil
}
