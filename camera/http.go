package camera

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPCamera is a FrameSource backed by a camera server which exposes the
// usual routes: POST /exposure-time {"f64": seconds}, POST /gain {"int": n},
// and GET /image?fmt=fits.
type HTTPCamera struct {
	// URL is the base URL, e.g. http://lab-pc:8000/hsi/camera
	URL string

	// Client is used for all requests; its Timeout bounds Capture
	Client *http.Client
}

// NewHTTPCamera returns a camera talking to the server at url, with captures
// bounded by timeout
func NewHTTPCamera(url string, timeout time.Duration) *HTTPCamera {
	return &HTTPCamera{
		URL:    strings.TrimSuffix(url, "/"),
		Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPCamera) post(route string, payload interface{}) error {
	buf := &bytes.Buffer{}
	err := json.NewEncoder(buf).Encode(payload)
	if err != nil {
		return err
	}
	resp, err := c.Client.Post(c.URL+route, "application/json", buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera server: POST %s: %s", route, resp.Status)
	}
	return nil
}

// Configure sets the exposure time and gain on the remote camera
func (c *HTTPCamera) Configure(exposure time.Duration, gain int) error {
	err := c.post("/exposure-time", map[string]float64{"f64": exposure.Seconds()})
	if err != nil {
		return err
	}
	return c.post("/gain", map[string]int{"int": gain})
}

// Capture fetches one frame as FITS.  A client timeout is reported as
// ErrCaptureTimeout, anything else as ErrCaptureFailed.
func (c *HTTPCamera) Capture() (Frame, error) {
	resp, err := c.Client.Get(c.URL + "/image?fmt=fits")
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return Frame{}, fmt.Errorf("%w: %v", ErrCaptureTimeout, err)
		}
		return Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("%w: camera server responded %s", ErrCaptureFailed, resp.Status)
	}
	return ReadFITS(resp.Body)
}
