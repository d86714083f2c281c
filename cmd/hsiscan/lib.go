package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/cubeio"
	"github.com/hsilab/pushbroom/generichttp"
	camhttp "github.com/hsilab/pushbroom/generichttp/camera"
	"github.com/hsilab/pushbroom/generichttp/scanner"
	"github.com/hsilab/pushbroom/hsi"
	"github.com/hsilab/pushbroom/imgrec"
	"github.com/hsilab/pushbroom/motion"
	"github.com/hsilab/pushbroom/scan"
	"github.com/hsilab/pushbroom/server/middleware/locker"
)

var errUnknownCamera = errors.New("unknown camera type, must be simulator, playback, or http")

// CameraSetup describes the frame source
type CameraSetup struct {
	// Type is simulator, playback, or http
	Type string `yaml:"Type"`

	// Addr is the URL of a camera server for http, or the folder of recorded
	// frames for playback
	Addr string `yaml:"Addr"`

	// Prefix is the filename prefix of recorded frames, used by playback
	Prefix string `yaml:"Prefix"`

	// Width and Height are the sensor size of the simulator
	Width  int `yaml:"Width"`
	Height int `yaml:"Height"`

	// TimeoutMs bounds one capture from an http camera
	TimeoutMs float64 `yaml:"TimeoutMs"`

	// Endpoint is where camsrv serves the camera
	Endpoint string `yaml:"Endpoint"`
}

// StageSetup describes the link to the stepper controller
type StageSetup struct {
	// Addr is a TCP address, ex. 192.168.100.123:2006, or a serial port,
	// ex. /dev/ttyUSB0
	Addr string `yaml:"Addr"`

	// Serial is true for an RS232 link
	Serial bool `yaml:"Serial"`

	// SettleMs is the minimum time between steps
	SettleMs float64 `yaml:"SettleMs"`
}

// ScanSetup holds the default scan settings
type ScanSetup struct {
	Steps      int     `yaml:"Steps"`
	ExposureMs float64 `yaml:"ExposureMs"`
	Gain       int     `yaml:"Gain"`

	// Direction is 0 (left) or 1 (right)
	Direction int `yaml:"Direction"`

	// Mode is full, half, micro2, or micro4
	Mode string `yaml:"Mode"`

	// Destination is the folder raw frames are written to.  The log is kept
	// beside it and the cube is saved beside it with CubeFormat's extension.
	Destination string `yaml:"Destination"`

	// Buffer is the number of frames held between capture and disk
	Buffer int `yaml:"Buffer"`

	// Endpoint is where run serves the scanner
	Endpoint string `yaml:"Endpoint"`
}

// HSISetup holds the cube assembly parameters
type HSISetup struct {
	// Assemble builds a cube while scanning
	Assemble bool `yaml:"Assemble"`

	Crop         hsi.CropWindow `yaml:"Crop"`
	Channels     int            `yaml:"Channels"`
	Red          int            `yaml:"Red"`
	Green        int            `yaml:"Green"`
	Blue         int            `yaml:"Blue"`
	ReferenceRow int            `yaml:"ReferenceRow"`

	// Reference is a .fits or .mat cube of a uniform target.  When set,
	// layers are normalized by it.
	Reference string `yaml:"Reference"`

	// ReferenceKey is the MAT-file variable holding the reference
	ReferenceKey string `yaml:"ReferenceKey"`

	// Threshold divides the reference line to form the coefficients
	Threshold float64 `yaml:"Threshold"`

	// CubeFormat is fits or mat
	CubeFormat string `yaml:"CubeFormat"`

	// CubeKey is the MAT-file variable cubes are saved under
	CubeKey string `yaml:"CubeKey"`
}

// RecorderSetup configures the raw frame recorder
type RecorderSetup struct {
	Enabled bool `yaml:"Enabled"`

	// Prefix is the filename prefix of each frame
	Prefix string `yaml:"Prefix"`

	// Format is fits or png
	Format string `yaml:"Format"`
}

// Config is the full configuration of hsiscan
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock replaces the camera with a simulator and the stage with a mock
	Mock bool `yaml:"Mock"`

	Camera   CameraSetup   `yaml:"Camera"`
	Stage    StageSetup    `yaml:"Stage"`
	Scan     ScanSetup     `yaml:"Scan"`
	HSI      HSISetup      `yaml:"HSI"`
	Recorder RecorderSetup `yaml:"Recorder"`
}

// DefaultConfig matches the simulator's 640x480 sensor
func DefaultConfig() Config {
	return Config{
		Addr: ":8000",
		Mock: true,
		Camera: CameraSetup{
			Type:      "simulator",
			Prefix:    "frame_",
			Width:     640,
			Height:    480,
			TimeoutMs: 3000,
			Endpoint:  "/camera"},
		Stage: StageSetup{
			Addr:     "/dev/ttyUSB0",
			Serial:   true,
			SettleMs: 50},
		Scan: ScanSetup{
			Steps:       200,
			ExposureMs:  15,
			Gain:        1,
			Direction:   1,
			Mode:        "full",
			Destination: "scan",
			Buffer:      scan.DefaultBuffer,
			Endpoint:    "/scanner"},
		HSI: HSISetup{
			Assemble: true,
			Crop: hsi.CropWindow{
				GapCoord:           48,
				RangeToSpectrum:    24,
				RangeToEndSpectrum: 240,
				LeftBound:          0,
				RightBound:         640},
			Red:          180,
			Green:        110,
			Blue:         40,
			ReferenceRow: hsi.DefaultReferenceRow,
			ReferenceKey: cubeio.DefaultKey,
			Threshold:    100,
			CubeFormat:   "fits",
			CubeKey:      cubeio.DefaultKey},
		Recorder: RecorderSetup{
			Enabled: true,
			Prefix:  "frame_",
			Format:  "png"}}
}

func ms(v float64) time.Duration {
	return time.Duration(v * float64(time.Millisecond))
}

// Settings converts the scan defaults into coordinator settings
func (c ScanSetup) Settings() (scan.Settings, error) {
	mode, err := motion.ParseMode(c.Mode)
	if err != nil {
		return scan.Settings{}, err
	}
	s := scan.Settings{
		Steps:       c.Steps,
		Exposure:    ms(c.ExposureMs),
		Gain:        c.Gain,
		Direction:   motion.Direction(c.Direction),
		Mode:        mode,
		Destination: c.Destination}
	return s, s.Validate()
}

// NewCamera returns the configured frame source
func (c Config) NewCamera() (camera.FrameSource, error) {
	typ := strings.ToLower(c.Camera.Type)
	if c.Mock {
		typ = "simulator"
	}
	switch typ {
	case "simulator", "sim", "mock":
		return camera.NewSimulator(c.Camera.Width, c.Camera.Height), nil
	case "playback":
		return camera.NewPlayback(c.Camera.Addr, c.Camera.Prefix)
	case "http":
		return camera.NewHTTPCamera(c.Camera.Addr, ms(c.Camera.TimeoutMs)), nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownCamera, c.Camera.Type)
	}
}

// NewStage returns the configured stage
func (c Config) NewStage() motion.Stepper {
	if c.Mock {
		return motion.NewMockStepper(0)
	}
	return motion.NewSerialStepper(c.Stage.Addr, c.Stage.Serial, ms(c.Stage.SettleMs))
}

// NewRecorder returns the frame recorder, or nil if recording is disabled
func (c Config) NewRecorder() (*imgrec.Recorder, error) {
	if !c.Recorder.Enabled {
		return nil, nil
	}
	return imgrec.New(c.Scan.Destination, c.Recorder.Prefix, c.Recorder.Format)
}

func (c Config) hsiConfig() hsi.Config {
	return hsi.Config{
		Crop:         c.HSI.Crop,
		Channels:     c.HSI.Channels,
		Red:          c.HSI.Red,
		Green:        c.HSI.Green,
		Blue:         c.HSI.Blue,
		ReferenceRow: c.HSI.ReferenceRow}
}

// NewBuilder returns a builder for a scan of steps frames, with
// normalization loaded if a reference is configured.  steps <= 0 grows the
// cube dynamically.
func (c Config) NewBuilder(steps int) (*hsi.Builder, error) {
	strategy := hsi.Dynamic()
	if steps > 0 {
		strategy = hsi.Preallocated(steps)
	}
	b, err := hsi.NewBuilder(c.hsiConfig(), strategy)
	if err != nil {
		return nil, err
	}
	if c.HSI.Reference != "" {
		ref, err := cubeio.Load(c.HSI.Reference, c.HSI.ReferenceKey)
		if err != nil {
			return nil, fmt.Errorf("loading reference %s: %w", c.HSI.Reference, err)
		}
		if _, err := b.SetNormalization(ref, c.HSI.Threshold); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// CubePath is where the cube of a scan into destination is saved.  It
// shares its stem with the scan log.
func (c Config) CubePath(destination string) string {
	d := scan.Stem(destination)
	if strings.Trim(d, `/\`) == "" {
		d = "cube"
	}
	ext := strings.ToLower(c.HSI.CubeFormat)
	if ext == "" {
		ext = "fits"
	}
	return d + "." + ext
}

// NewCoordinator builds a coordinator from the configuration
func (c Config) NewCoordinator() (*scan.Coordinator, error) {
	cam, err := c.NewCamera()
	if err != nil {
		return nil, err
	}
	rec, err := c.NewRecorder()
	if err != nil {
		return nil, err
	}
	var sink scan.Sink
	if rec != nil {
		sink = rec
	}
	co := scan.NewCoordinator(cam, c.NewStage(), sink, nil)
	co.Buffer = c.Scan.Buffer
	return co, nil
}

// SaveScan writes the log of res and, if cube is not nil, the cube beside
// the scan's destination
func (c Config) SaveScan(res scan.Result, cube *hsi.Cube) error {
	var errs []error
	if res.Destination != "" {
		fn := scan.LogPath(res.Destination)
		errs = append(errs, os.MkdirAll(filepath.Dir(fn), 0777), res.WriteLogFile(fn))
	}
	if cube != nil {
		errs = append(errs, cubeio.Save(c.CubePath(res.Destination), cube, c.HSI.CubeKey, scanner.Cards(res)...))
	}
	return errors.Join(errs...)
}

// BuildMux mounts the scanner at the configured endpoint behind its lock and
// lists every route on /endpoints
func BuildMux(c Config, sc *scanner.HTTPScanner) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	hndlS := generichttp.SubMuxSanitize(c.Scan.Endpoint)
	supergraph := map[string][]string{hndlS: sc.RT().Endpoints()}

	r := chi.NewRouter()
	r.Use(sc.Lock.Check)
	sc.RT().Bind(r)
	root.Mount(hndlS, r)
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}

// BuildCameraMux serves a frame source alone, for a scanner elsewhere to use
// through an http camera
func BuildCameraMux(c Config, cam *camhttp.HTTPCamera) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	lock := locker.New()
	locker.Inject(cam, lock)
	r := chi.NewRouter()
	r.Use(lock.Check)
	cam.RT().Bind(r)
	root.Mount(generichttp.SubMuxSanitize(c.Camera.Endpoint), r)
	return root
}
