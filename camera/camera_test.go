package camera_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"

	"github.com/hsilab/pushbroom/camera"
)

func rampFrame(w, h int) camera.Frame {
	f := camera.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = uint16(i * 257)
	}
	return f
}

func TestSimulatorFramesHaveSensorSize(t *testing.T) {
	s := camera.NewSimulator(64, 80)
	if err := s.Configure(10*time.Millisecond, 2); err != nil {
		t.Fatal(err)
	}
	a, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Check(); err != nil {
		t.Fatal(err)
	}
	if a.Width != 64 || a.Height != 80 {
		t.Errorf("frame is %dx%d, expected 64x80", a.Width, a.Height)
	}
	if cmp.Equal(a.Pix, b.Pix) {
		t.Error("successive simulated frames are identical")
	}
}

func TestFrameCheck(t *testing.T) {
	f := camera.NewFrame(4, 3)
	if err := f.Check(); err != nil {
		t.Fatal(err)
	}
	f.Pix = f.Pix[:5]
	if err := f.Check(); !errors.Is(err, camera.ErrCaptureFailed) {
		t.Errorf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	f := rampFrame(7, 5)
	f.Set(0, 0, 0)
	f.Set(4, 6, 65535)
	buf := &bytes.Buffer{}
	err := camera.WriteFITS(buf, f, []fitsio.Card{{Name: "EXPTIME", Value: 0.01}})
	if err != nil {
		t.Fatal(err)
	}
	g, err := camera.ReadFITS(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f, g); diff != "" {
		t.Errorf("FITS round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGray16PreservesSamples(t *testing.T) {
	f := rampFrame(3, 2)
	g := camera.FromImage(f.Gray16())
	if diff := cmp.Diff(f, g); diff != "" {
		t.Errorf("Gray16 round trip mismatch (-want +got):\n%s", diff)
	}
}

func writePNG(t *testing.T, fn string, f camera.Frame) {
	t.Helper()
	fid, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer fid.Close()
	if err := png.Encode(fid, f.Gray16()); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybackOrdersByNumber(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int{10, 2, 1} {
		f := camera.NewFrame(2, 2)
		f.Pix[0] = uint16(n)
		writePNG(t, filepath.Join(dir, fmt.Sprintf("frame_%d.png", n)), f)
	}
	// not frames
	os.WriteFile(filepath.Join(dir, "frame_log.txt"), []byte("x"), 0666)
	writePNG(t, filepath.Join(dir, "other_3.png"), camera.NewFrame(2, 2))

	p, err := camera.NewPlayback(dir, "frame_")
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 frames, found %d", p.Len())
	}
	var order []uint16
	for i := 0; i < 3; i++ {
		f, err := p.Capture()
		if err != nil {
			t.Fatal(err)
		}
		order = append(order, f.Pix[0])
	}
	if diff := cmp.Diff([]uint16{1, 2, 10}, order); diff != "" {
		t.Errorf("playback order mismatch (-want +got):\n%s", diff)
	}
	if _, err := p.Capture(); !errors.Is(err, camera.ErrCaptureFailed) {
		t.Errorf("expected ErrCaptureFailed past the end, got %v", err)
	}
}

type fakeCameraServer struct {
	exposure float64
	gain     int
	frame    camera.Frame
	delay    time.Duration
}

func (s *fakeCameraServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/exposure-time", func(w http.ResponseWriter, r *http.Request) {
		var v struct {
			F64 float64 `json:"f64"`
		}
		json.NewDecoder(r.Body).Decode(&v)
		s.exposure = v.F64
	})
	mux.HandleFunc("/gain", func(w http.ResponseWriter, r *http.Request) {
		var v struct {
			Int int `json:"int"`
		}
		json.NewDecoder(r.Body).Decode(&v)
		s.gain = v.Int
	})
	mux.HandleFunc("/image", func(w http.ResponseWriter, r *http.Request) {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		if r.URL.Query().Get("fmt") != "fits" {
			http.Error(w, "fits only", http.StatusBadRequest)
			return
		}
		camera.WriteFITS(w, s.frame, nil)
	})
	return mux
}

func TestHTTPCamera(t *testing.T) {
	fake := &fakeCameraServer{frame: rampFrame(6, 4)}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := camera.NewHTTPCamera(srv.URL+"/", time.Second)
	if err := c.Configure(25*time.Millisecond, 3); err != nil {
		t.Fatal(err)
	}
	if fake.exposure != 0.025 || fake.gain != 3 {
		t.Errorf("server saw exposure=%v gain=%d", fake.exposure, fake.gain)
	}
	f, err := c.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(fake.frame, f); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPCameraTimeout(t *testing.T) {
	fake := &fakeCameraServer{frame: rampFrame(2, 2), delay: 200 * time.Millisecond}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	c := camera.NewHTTPCamera(srv.URL, 20*time.Millisecond)
	if _, err := c.Capture(); !errors.Is(err, camera.ErrCaptureTimeout) {
		t.Errorf("expected ErrCaptureTimeout, got %v", err)
	}
}

func TestHTTPCameraServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := camera.NewHTTPCamera(srv.URL, time.Second)
	if _, err := c.Capture(); !errors.Is(err, camera.ErrCaptureFailed) {
		t.Errorf("expected ErrCaptureFailed, got %v", err)
	}
}
