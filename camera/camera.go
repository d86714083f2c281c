/*Package camera describes the frame source used by the scanner

A FrameSource is a line-scan camera reduced to what the scan loop needs:
configure exposure and gain, then capture one frame at a time.  Capture blocks
until the frame is read out or the driver's timeout elapses.

*/
package camera

import (
	"errors"
	"fmt"
	"image"
	"time"
)

var (
	// ErrCaptureTimeout is generated when the camera does not return a frame
	// within the driver's timeout
	ErrCaptureTimeout = errors.New("camera capture timed out")

	// ErrCaptureFailed is generated when the camera returns an error or an
	// incomplete frame
	ErrCaptureFailed = errors.New("camera capture failed")
)

// FrameSource describes a camera which produces raw 2D frames on demand.
type FrameSource interface {
	// Configure sets the exposure time and analog gain.  Auto gain, if the
	// camera has it, is disabled.
	Configure(exposure time.Duration, gain int) error

	// Capture triggers and reads out a single frame.
	Capture() (Frame, error)
}

// Frame is a raw sensor readout.  Pix is row major with Height rows of Width
// samples.  A Frame must not be modified after it is returned by Capture.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewFrame returns a zeroed frame of the given size
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// At returns the sample at row, col
func (f Frame) At(row, col int) uint16 {
	return f.Pix[row*f.Width+col]
}

// Set sets the sample at row, col
func (f Frame) Set(row, col int, v uint16) {
	f.Pix[row*f.Width+col] = v
}

// Check verifies the pixel buffer agrees with the frame dimensions
func (f Frame) Check() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: empty frame %dx%d", ErrCaptureFailed, f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("%w: frame is %dx%d but holds %d samples", ErrCaptureFailed, f.Width, f.Height, len(f.Pix))
	}
	return nil
}

// Gray16 wraps the frame as an image without copying the samples into 8 bits.
func (f Frame) Gray16() *image.Gray16 {
	im := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for idx, v := range f.Pix {
		// big endian, per image.Gray16
		im.Pix[2*idx] = byte(v >> 8)
		im.Pix[2*idx+1] = byte(v)
	}
	return im
}
