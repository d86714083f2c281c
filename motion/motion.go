// Package motion contains the interface to the scan stage and its drivers.
//
// The stage is a stepper motor behind a step/direction driver.  A scan only
// ever asks it to take one step at a time in a fixed direction and
// microstepping mode, so the interface is much smaller than a general motion
// controller's.
package motion

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidMode is generated for a microstepping mode the driver does not have
	ErrInvalidMode = errors.New("invalid stepping mode")

	// ErrInvalidDirection is generated for a direction other than 0 or 1
	ErrInvalidDirection = errors.New("invalid direction, must be 0 or 1")

	// ErrNotInitialized is generated by Step before Initialize
	ErrNotInitialized = errors.New("stage not initialized")
)

// Direction is the sense of rotation, 0 (left / counter-clockwise) or 1 (right / clockwise)
type Direction int

// Valid returns true for 0 and 1
func (d Direction) Valid() bool {
	return d == 0 || d == 1
}

// Mode is a microstepping mode.  The values are the codes used in settings
// files and logs.
type Mode int

const (
	// Full is full stepping
	Full Mode = 0

	// Half is half stepping
	Half Mode = 1

	// Micro2 is the driver's first microstepping mode
	Micro2 Mode = 2

	// Micro4 is the driver's second microstepping mode
	Micro4 Mode = 4
)

var modeNames = map[Mode]string{
	Full:   "full",
	Half:   "half",
	Micro2: "micro2",
	Micro4: "micro4",
}

// Valid returns true if the mode is one of Full, Half, Micro2, Micro4
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

// Pins returns the MS1, MS2 levels selecting the mode on the driver
func (m Mode) Pins() (ms1, ms2 int, err error) {
	switch m {
	case Full:
		return 0, 0, nil
	case Half:
		return 1, 0, nil
	case Micro2:
		return 0, 1, nil
	case Micro4:
		return 1, 1, nil
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
}

// ParseMode accepts a mode name (full, half, micro2, micro4) or its code
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if s == name {
			return m, nil
		}
	}
	i, err := strconv.Atoi(s)
	if err != nil || !Mode(i).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return Mode(i), nil
}

// MarshalText encodes the mode by name
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name or code
func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Stepper describes a stage that advances in single steps
type Stepper interface {
	// Initialize sets the direction and mode and enables the driver
	Initialize(Direction, Mode) error

	// Step advances the stage by one step.  It returns once the step is
	// complete.
	Step() error
}

// checkSetup validates a direction and mode pair
func checkSetup(d Direction, m Mode) error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDirection, int(d))
	}
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return nil
}
