package camera

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Playback replays a directory of recorded frames as a camera.  Files are
// played in order of the integer embedded in their name, so frame_2.png comes
// before frame_10.png.  FITS and 16 or 8 bit PNG files are understood.
type Playback struct {
	files  []string
	cursor int
}

// NewPlayback scans dir for frames with the given prefix
func NewPlayback(dir, prefix string) (*Playback, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		n  int
		fn string
	}
	var found []numbered
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn := e.Name()
		ext := strings.ToLower(filepath.Ext(fn))
		if ext != ".fits" && ext != ".png" {
			continue
		}
		if !strings.HasPrefix(fn, prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, prefix), filepath.Ext(fn))
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		found = append(found, numbered{n, filepath.Join(dir, fn)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	p := &Playback{files: make([]string, len(found))}
	for i, f := range found {
		p.files[i] = f.fn
	}
	return p, nil
}

// Len returns the number of frames available
func (p *Playback) Len() int {
	return len(p.files)
}

// Configure is a no-op, the exposure is baked into the recording
func (p *Playback) Configure(exposure time.Duration, gain int) error {
	return nil
}

// Capture returns the next recorded frame.  Running past the end of the
// recording is a capture failure.
func (p *Playback) Capture() (Frame, error) {
	if p.cursor >= len(p.files) {
		return Frame{}, fmt.Errorf("%w: playback exhausted after %d frames", ErrCaptureFailed, len(p.files))
	}
	fn := p.files[p.cursor]
	p.cursor++
	fid, err := os.Open(fn)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	defer fid.Close()
	if strings.EqualFold(filepath.Ext(fn), ".png") {
		im, err := png.Decode(fid)
		if err != nil {
			return Frame{}, fmt.Errorf("%w: %s: %v", ErrCaptureFailed, fn, err)
		}
		return FromImage(im), nil
	}
	f, err := ReadFITS(fid)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", fn, err)
	}
	return f, nil
}

// FromImage converts any image to a 16-bit frame.  8-bit gray images keep
// their 8-bit values rather than being scaled up.
func FromImage(im image.Image) Frame {
	b := im.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	g8, is8 := im.(*image.Gray)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if is8 {
				f.Set(y, x, uint16(g8.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
				continue
			}
			c := color.Gray16Model.Convert(im.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			f.Set(y, x, c.Y)
		}
	}
	return f
}
