package imgrec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hsilab/pushbroom/camera"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(t.TempDir(), "frame_", "tiff"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestPathIsZeroPadded(t *testing.T) {
	r, _ := New("/data", "frame_", "FITS")
	if got := r.Path(12); got != filepath.Join("/data", "frame_000012.fits") {
		t.Errorf("got %s", got)
	}
}

func TestWriteReadsBackAsPlayback(t *testing.T) {
	for _, format := range []string{"fits", "png"} {
		t.Run(format, func(t *testing.T) {
			r, err := New("", "frame_", format)
			if err != nil {
				t.Fatal(err)
			}
			dest := filepath.Join(t.TempDir(), "scan")
			if err := r.Prepare(dest); err != nil {
				t.Fatal(err)
			}
			frames := make([]camera.Frame, 3)
			for i := range frames {
				frames[i] = camera.NewFrame(4, 3)
				frames[i].Pix[0] = uint16(1000 * (i + 1))
				if err := r.Write(frames[i], i); err != nil {
					t.Fatal(err)
				}
			}
			if _, err := os.Stat(filepath.Join(dest, "frame_000002."+format)); err != nil {
				t.Fatal(err)
			}
			p, err := camera.NewPlayback(dest, "frame_")
			if err != nil {
				t.Fatal(err)
			}
			for i := range frames {
				f, err := p.Capture()
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(frames[i], f); diff != "" {
					t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
				}
			}
		})
	}
}

func TestWriteBadFrameLeavesNoFile(t *testing.T) {
	r, _ := New(t.TempDir(), "frame_", "png")
	bad := camera.Frame{Width: 3, Height: 3, Pix: make([]uint16, 2)}
	if err := r.Write(bad, 0); err == nil {
		t.Fatal("expected an error writing a malformed frame")
	}
	if _, err := os.Stat(r.Path(0)); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}
