/*Package scan runs push-broom scans.

A Coordinator owns one scan at a time: it configures the camera and stage,
then for each step captures a frame, pushes it onto a bounded buffer, and
advances the stage.  A single consumer goroutine drains the buffer in order,
writing each frame to a Sink and, when present, appending it to a cube.

	co := scan.NewCoordinator(cam, stage, recorder, builder)
	res, err := co.Run(ctx, scan.Settings{Steps: 200, Exposure: 20 * time.Millisecond})
	if err != nil {
		log.Fatal(err)
	}
	err = res.WriteLogFile(scan.LogPath(res.Destination))

*/
package scan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hsilab/pushbroom/camera"
	"github.com/hsilab/pushbroom/motion"
)

var (
	// ErrHardware is wrapped by every capture and stage failure
	ErrHardware = errors.New("hardware failure")

	// ErrPersistence is wrapped by sink failures.  These are logged and the
	// frame dropped; they never end a scan.
	ErrPersistence = errors.New("persistence failure")

	// ErrBadSettings is generated for settings that cannot describe a scan
	ErrBadSettings = errors.New("invalid scan settings")

	// ErrBusy is generated when Run is called while a scan is in progress
	ErrBusy = errors.New("a scan is already running")
)

// Settings describe one scan.  They are copied into the coordinator at the
// start of Run and not modified.
type Settings struct {
	// Steps is the number of frames to capture, one per stage step
	Steps int `json:"steps" yaml:"Steps"`

	// Exposure is the camera exposure time
	Exposure time.Duration `json:"exposure" yaml:"Exposure"`

	// Gain is the camera analog gain
	Gain int `json:"gain" yaml:"Gain"`

	// Direction is the stage direction, 0 or 1
	Direction motion.Direction `json:"direction" yaml:"Direction"`

	// Mode is the stage stepping mode
	Mode motion.Mode `json:"mode" yaml:"Mode"`

	// Destination is where the sink writes frames
	Destination string `json:"destination" yaml:"Destination"`
}

// Validate checks the settings before any hardware is touched
func (s Settings) Validate() error {
	if s.Steps < 1 {
		return fmt.Errorf("%w: step count must be at least 1, got %d", ErrBadSettings, s.Steps)
	}
	if s.Exposure < 0 {
		return fmt.Errorf("%w: negative exposure %v", ErrBadSettings, s.Exposure)
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("%w: %v", ErrBadSettings, motion.ErrInvalidDirection)
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: %v", ErrBadSettings, motion.ErrInvalidMode)
	}
	return nil
}

// Sink is a destination for raw frames.  index increases strictly over a scan.
type Sink interface {
	Write(frame camera.Frame, index int) error
}

// Preparer is implemented by sinks that need to know the scan destination
// before the first frame
type Preparer interface {
	Prepare(destination string) error
}

// Appender is the part of a cube builder the consumer drives
type Appender interface {
	Append(frame camera.Frame, index int) error
}

// StepError is a capture or stage failure, with the step it happened on
type StepError struct {
	// Step is the zero based index of the step that failed
	Step int

	// Settings are the settings of the failed scan
	Settings Settings

	// Op is "configure", "capture", "initialize" or "step"
	Op string

	// Err is the driver's error
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("scan step %d of %d: %s: %v", e.Step, e.Settings.Steps, e.Op, e.Err)
}

// Unwrap returns a chain containing both ErrHardware and the driver's error
func (e *StepError) Unwrap() []error {
	return []error{ErrHardware, e.Err}
}

// Result describes a finished scan, successful or not
type Result struct {
	// ID is unique to the scan
	ID uuid.UUID `json:"id"`

	// Settings are the settings used
	Settings Settings `json:"settings"`

	// Requested is Settings.Steps
	Requested int `json:"requested"`

	// Completed is the number of frames captured and buffered
	Completed int `json:"completed"`

	// Persisted is the number of frames the sink accepted
	Persisted int `json:"persisted"`

	// Dropped is the number of frames the sink rejected
	Dropped int `json:"dropped"`

	// Destination is where frames were written
	Destination string `json:"destination"`

	// Started and Finished bracket the scan
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Err is the error that ended the scan early, if any
	Err error `json:"-"`
}

// Complete is true when every requested step was captured and the scan did
// not fail.  Dropped frames do not make a scan incomplete; check Dropped.
func (r Result) Complete() bool {
	return r.Err == nil && r.Requested > 0 && r.Completed == r.Requested
}

// Status is a one line summary
func (r Result) Status() string {
	switch {
	case r.Complete() && r.Dropped == 0:
		return fmt.Sprintf("complete: %d of %d steps", r.Completed, r.Requested)
	case r.Complete():
		return fmt.Sprintf("complete: %d of %d steps, %d frames dropped", r.Completed, r.Requested, r.Dropped)
	case r.Err != nil:
		return fmt.Sprintf("failed after %d of %d steps: %v", r.Completed, r.Requested, r.Err)
	}
	return fmt.Sprintf("incomplete: %d of %d steps", r.Completed, r.Requested)
}
