// Package imgrec contains the frame recorder used to save raw scan frames to disk.
package imgrec

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/hsilab/pushbroom/camera"
)

// ErrUnknownFormat is generated for a Format other than fits or png
var ErrUnknownFormat = errors.New("unknown image format, must be fits or png")

// Recorder writes frames as numbered files, <Root>/<Prefix><index>.<Format>,
// with the index zero padded to six digits.  It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	// Root is the folder frames are written to
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// Format is fits or png
	Format string
}

// New returns a recorder
func New(root, prefix, format string) (*Recorder, error) {
	r := &Recorder{Root: root, Prefix: prefix, Format: strings.ToLower(format)}
	if r.Format != "fits" && r.Format != "png" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return r, nil
}

// Prepare points the recorder at a new root folder and creates it.  The scan
// coordinator calls this with the scan destination before the first frame.
func (r *Recorder) Prepare(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if root != "" {
		r.Root = root
	}
	return os.MkdirAll(r.Root, 0777)
}

// Path returns the filename used for index
func (r *Recorder) Path(index int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path(index)
}

func (r *Recorder) path(index int) string {
	fn := fmt.Sprintf("%s%06d.%s", r.Prefix, index, r.Format)
	return filepath.Join(r.Root, fn)
}

// Write saves f under index.  An existing file with the same name is
// replaced.  A partially written file is removed.
func (r *Recorder) Write(f camera.Frame, index int) error {
	r.mu.Lock()
	fn := r.path(index)
	format := r.Format
	r.mu.Unlock()

	fid, err := os.Create(fn)
	if err != nil {
		return err
	}
	switch format {
	case "fits":
		cards := []fitsio.Card{
			{Name: "FRAMENUM", Value: index, Comment: "scan step"},
			{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "time written"},
		}
		err = camera.WriteFITS(fid, f, cards)
	case "png":
		if err = f.Check(); err == nil {
			err = png.Encode(fid, f.Gray16())
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	cerr := fid.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fn)
		return err
	}
	return nil
}
