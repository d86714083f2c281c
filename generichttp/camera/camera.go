// Package camera provides an HTTP interface to a frame source.
//
// The routes are the ones camera.HTTPCamera consumes, so a FrameSource on one
// machine can be used by a scanner on another.
package camera

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	cam "github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/generichttp"
	"github.com/hsilab/pushbroom/imgrec"
)

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// HTTPCamera wraps a frame source in an HTTP interface.  A FrameSource can
// only be configured, so the wrapper remembers the exposure and gain it last
// set.
type HTTPCamera struct {
	Src cam.FrameSource

	// Rec, if not nil, also records every frame served
	Rec *imgrec.Recorder

	RouteTable generichttp.RouteTable

	mu       sync.Mutex
	exposure time.Duration
	gain     int
	served   int
}

// NewHTTPCamera returns a new HTTP wrapper and configures the source with
// the given exposure and gain
func NewHTTPCamera(src cam.FrameSource, exposure time.Duration, gain int, rec *imgrec.Recorder) (*HTTPCamera, error) {
	w := &HTTPCamera{Src: src, Rec: rec}
	if err := w.Configure(exposure, gain); err != nil {
		return nil, err
	}
	rt := generichttp.RouteTable{}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = generichttp.GetFloat(func() (float64, error) {
		e, _ := w.Settings()
		return e.Seconds(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(w)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/gain"}] = generichttp.GetInt(func() (int, error) {
		_, g := w.Settings()
		return g, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/gain"}] = generichttp.SetInt(func(g int) error {
		e, _ := w.Settings()
		return w.Configure(e, g)
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(w)
	w.RouteTable = rt
	return w, nil
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Configure sets the exposure and gain on the source and remembers them
func (h *HTTPCamera) Configure(exposure time.Duration, gain int) error {
	if exposure < 0 {
		return fmt.Errorf("negative exposure time %v", exposure)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.Src.Configure(exposure, gain); err != nil {
		return err
	}
	h.exposure, h.gain = exposure, gain
	return nil
}

// Track records an exposure and gain set on the source by someone else
func (h *HTTPCamera) Track(exposure time.Duration, gain int) {
	h.mu.Lock()
	h.exposure, h.gain = exposure, gain
	h.mu.Unlock()
}

// Settings returns the exposure and gain last set
func (h *HTTPCamera) Settings() (time.Duration, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exposure, h.gain
}

// CollectHeaderMetadata satisfies MetadataMaker
func (h *HTTPCamera) CollectHeaderMetadata() []fitsio.Card {
	e, g := h.Settings()
	cards := []fitsio.Card{
		{Name: "EXPTIME", Value: e.Seconds(), Comment: "exposure time, sec"},
		{Name: "GAIN", Value: g, Comment: "analog gain"},
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "time of capture"},
	}
	if carder, ok := interface{}(h.Src).(MetadataMaker); ok {
		cards = append(cards, carder.CollectHeaderMetadata()...)
	}
	return cards
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(h *HTTPCamera) http.HandlerFunc {
	setFloat := generichttp.SetFloat(func(secs float64) error {
		_, g := h.Settings()
		return h.Configure(time.Duration(secs*float64(time.Second)), g)
	})
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		if texp == "" {
			setFloat(w, r)
			return
		}
		d, err := time.ParseDuration(texp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, g := h.Settings()
		if err = h.Configure(d, g); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func to8bit(f cam.Frame) *image.Gray {
	im := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for idx, v := range f.Pix {
		im.Pix[idx] = byte(v >> 8) // scale 16 to 8 bits
	}
	return im
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in the fmt query parameter: png (16-bit,
// the default), jpg (8-bit), or fits.
func GetFrame(h *HTTPCamera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("fmt")
		if format == "" {
			format = "png"
		}
		if format != "png" && format != "jpg" && format != "fits" {
			http.Error(w, fmt.Sprintf("format %q not supported, use png, jpg, or fits", format), http.StatusBadRequest)
			return
		}
		f, err := h.Src.Capture()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, cam.ErrCaptureTimeout) {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, err.Error(), status)
			return
		}
		if h.Rec != nil {
			h.mu.Lock()
			n := h.served
			h.served++
			h.mu.Unlock()
			if err := h.Rec.Write(f, n); err != nil {
				log.Printf("recording frame %d: %v", n, err)
			}
		}
		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, to8bit(f), nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			err = png.Encode(w, f.Gray16())
		case "fits":
			hdr := w.Header()
			hdr.Set("Content-Type", "image/fits")
			hdr.Set("Content-Disposition", "attachment; filename=image.fits")
			err = cam.WriteFITS(w, f, h.CollectHeaderMetadata())
		}
		if err != nil {
			log.Printf("writing %s frame: %v", format, err)
		}
	}
}
