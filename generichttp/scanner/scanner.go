// Package scanner provides an HTTP interface to a push-broom scanner
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/hsilab/pushbroom/cubeio"
	"github.com/hsilab/pushbroom/generichttp"
	camhttp "github.com/hsilab/pushbroom/generichttp/camera"
	motionhttp "github.com/hsilab/pushbroom/generichttp/motion"
	"github.com/hsilab/pushbroom/hsi"
	"github.com/hsilab/pushbroom/motion"
	"github.com/hsilab/pushbroom/scan"
	"github.com/hsilab/pushbroom/server"
	"github.com/hsilab/pushbroom/server/middleware/locker"
)

// ErrNoCube is generated when a cube is requested before a scan has built one
var ErrNoCube = errors.New("no cube, run a scan with cube assembly first")

// BuilderFactory makes a fresh cube builder for a scan of the given length
type BuilderFactory func(steps int) (*hsi.Builder, error)

// ScanRequest is the body of POST /scan.  Omitted fields take the
// wrapper's defaults.
type ScanRequest struct {
	Steps       *int         `json:"steps"`
	ExposureMs  *float64     `json:"exposure_ms"`
	Gain        *int         `json:"gain"`
	Direction   *int         `json:"direction"`
	Mode        *motion.Mode `json:"mode"`
	Destination *string      `json:"destination"`
}

func (req ScanRequest) apply(s scan.Settings) scan.Settings {
	if req.Steps != nil {
		s.Steps = *req.Steps
	}
	if req.ExposureMs != nil {
		s.Exposure = time.Duration(*req.ExposureMs * float64(time.Millisecond))
	}
	if req.Gain != nil {
		s.Gain = *req.Gain
	}
	if req.Direction != nil {
		s.Direction = motion.Direction(*req.Direction)
	}
	if req.Mode != nil {
		s.Mode = *req.Mode
	}
	if req.Destination != nil {
		s.Destination = *req.Destination
	}
	return s
}

// Status is the body of GET /scan/status
type Status struct {
	Running bool `json:"running"`
	Step    int  `json:"step"`
	Total   int  `json:"total"`
}

// ResultReport is the body of GET /scan/result
type ResultReport struct {
	scan.Result
	Complete bool   `json:"complete"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	HasCube  bool   `json:"hasCube"`
}

// HTTPScanner wraps a scan coordinator in an HTTP interface.  The camera
// and stage routes of generichttp/camera and generichttp/motion are included,
// and the camera's exposure and gain are the defaults for the next scan.  At
// most one scan runs at a time; while it does, the lock refuses every route
// except status, result, cube, and lock.
type HTTPScanner struct {
	Coord *scan.Coordinator

	// Cam serves the camera routes
	Cam *camhttp.HTTPCamera

	// NewBuilder, if not nil, makes the builder used for each scan
	NewBuilder BuilderFactory

	// CubeKey is the variable name used for .mat downloads
	CubeKey string

	// Lock is locked for the duration of a scan
	Lock *locker.Locker

	// Finished, if not nil, is called after every scan with its result and
	// the assembled cube, which is nil unless the scan completed
	Finished func(scan.Result, *hsi.Cube)

	RouteTable generichttp.RouteTable

	mu       sync.Mutex
	defaults scan.Settings
	status   Status
	last     *scan.Result
	cube     *hsi.Cube
	rgb      *hsi.Cube
	done     chan struct{}
}

// NewHTTPScanner returns a new HTTP wrapper.  defaults are used for any
// field a scan request omits; the camera is configured with their exposure
// and gain.
func NewHTTPScanner(co *scan.Coordinator, defaults scan.Settings, nb BuilderFactory) (*HTTPScanner, error) {
	cw, err := camhttp.NewHTTPCamera(co.Camera, defaults.Exposure, defaults.Gain, nil)
	if err != nil {
		return nil, err
	}
	w := &HTTPScanner{
		Coord:      co,
		Cam:        cw,
		NewBuilder: nb,
		CubeKey:    cubeio.DefaultKey,
		Lock:       locker.New("status", "result", "cube"),
		defaults:   defaults}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/scan"}:         w.StartScan,
		{Method: http.MethodGet, Path: "/scan/status"}:   w.GetStatus,
		{Method: http.MethodGet, Path: "/scan/result"}:   w.GetResult,
		{Method: http.MethodGet, Path: "/scan/settings"}: w.GetSettings,
		{Method: http.MethodGet, Path: "/cube"}:          w.GetCube,
		{Method: http.MethodGet, Path: "/cube/rgb"}:      w.GetRGB,
	}
	for k, v := range cw.RT() {
		rt[k] = v
	}
	for k, v := range motionhttp.NewHTTPStage(co.Stage).RT() {
		rt[k] = v
	}
	w.RouteTable = rt
	locker.Inject(w, w.Lock)
	return w, nil
}

// Cards returns the FITS header cards describing the scan behind a cube
func Cards(res scan.Result) []fitsio.Card {
	return []fitsio.Card{
		{Name: "SCANID", Value: res.ID.String(), Comment: "scan identifier"},
		{Name: "EXPTIME", Value: res.Settings.Exposure.Seconds(), Comment: "exposure time, sec"},
		{Name: "GAIN", Value: res.Settings.Gain, Comment: "camera gain"},
		{Name: "STEPMODE", Value: int(res.Settings.Mode), Comment: "stage stepping mode"},
		{Name: "STEPDIR", Value: int(res.Settings.Direction), Comment: "stage direction"},
	}
}

// RT satisfies generichttp.HTTPer
func (h *HTTPScanner) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Defaults returns the settings used for omitted scan request fields
func (h *HTTPScanner) Defaults() scan.Settings {
	h.mu.Lock()
	s := h.defaults
	h.mu.Unlock()
	s.Exposure, s.Gain = h.Cam.Settings()
	return s
}

// Start begins a scan in the background.  It returns once the scan is
// running, or with an error if the settings are invalid or a scan is in
// progress.
func (h *HTTPScanner) Start(s scan.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	if h.status.Running {
		h.mu.Unlock()
		return scan.ErrBusy
	}
	var b *hsi.Builder
	if h.NewBuilder != nil {
		var err error
		b, err = h.NewBuilder(s.Steps)
		if err != nil {
			h.mu.Unlock()
			return err
		}
		h.Coord.Builder = b
	} else {
		h.Coord.Builder = nil
	}
	h.Cam.Track(s.Exposure, s.Gain)
	h.status = Status{Running: true, Total: s.Steps}
	h.done = make(chan struct{})
	done := h.done
	h.Coord.Progress = func(step, total int) {
		h.mu.Lock()
		h.status.Step = step
		h.mu.Unlock()
	}
	h.Lock.Lock()
	h.mu.Unlock()

	go func() {
		defer close(done)
		defer h.Lock.Unlock()
		res, err := h.Coord.Run(context.Background(), s)
		if err != nil {
			log.Printf("scan %s: %v", res.ID, err)
		} else {
			log.Printf("scan %s: %s", res.ID, res.Status())
		}
		var cube, rgb *hsi.Cube
		if b != nil && res.Complete() {
			cube = b.Cube()
			if rgb, err = b.ToRGB(); err != nil {
				log.Printf("scan %s: rgb preview: %v", res.ID, err)
			}
		}
		if h.Finished != nil {
			h.Finished(res, cube)
		}
		h.mu.Lock()
		h.status.Running = false
		h.last = &res
		h.cube, h.rgb = cube, rgb
		h.mu.Unlock()
	}()
	return nil
}

// Wait blocks until the current scan, if any, is finished
func (h *HTTPScanner) Wait() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// StartScan handles POST /scan
func (h *HTTPScanner) StartScan(w http.ResponseWriter, r *http.Request) {
	req := ScanRequest{}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	err := h.Start(req.apply(h.Defaults()))
	switch {
	case errors.Is(err, scan.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scan.ErrBadSettings), errors.Is(err, hsi.ErrConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// GetStatus handles GET /scan/status
func (h *HTTPScanner) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	st := h.status
	h.mu.Unlock()
	server.ReplyJSON(w, st)
}

// GetSettings handles GET /scan/settings, the defaults for the next scan
func (h *HTTPScanner) GetSettings(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Defaults())
}

// GetResult handles GET /scan/result
func (h *HTTPScanner) GetResult(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	last, hasCube := h.last, h.cube != nil
	h.mu.Unlock()
	if last == nil {
		http.Error(w, "no scan has finished", http.StatusNotFound)
		return
	}
	rep := ResultReport{Result: *last, Complete: last.Complete(), Status: last.Status(), HasCube: hasCube}
	if last.Err != nil {
		rep.Error = last.Err.Error()
	}
	server.ReplyJSON(w, rep)
}

// GetCube handles GET /cube?fmt=fits|mat
func (h *HTTPScanner) GetCube(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cube, last := h.cube, h.last
	h.mu.Unlock()
	if cube == nil {
		http.Error(w, ErrNoCube.Error(), http.StatusNotFound)
		return
	}
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "fits"
	}
	var err error
	switch format {
	case "fits":
		w.Header().Set("Content-Type", "image/fits")
		w.Header().Set("Content-Disposition", "attachment; filename=cube.fits")
		err = cubeio.WriteFITS(w, cube, Cards(*last)...)
	case "mat":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", "attachment; filename=cube.mat")
		err = cubeio.WriteMAT(w, cube, h.CubeKey)
	default:
		http.Error(w, fmt.Sprintf("format %q not supported, use fits or mat", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("writing cube: %v", err)
	}
}

// GetRGB handles GET /cube/rgb
func (h *HTTPScanner) GetRGB(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	rgb := h.rgb
	h.mu.Unlock()
	if rgb == nil {
		http.Error(w, ErrNoCube.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := cubeio.EncodeRGBPNG(w, rgb); err != nil {
		log.Printf("writing rgb preview: %v", err)
	}
}
