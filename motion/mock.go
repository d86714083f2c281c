package motion

import (
	"sync"
	"time"
)

// MockStepper is a stage that only counts.  Delay, if set, is slept on
// every step to mimic the settle time of real hardware.
type MockStepper struct {
	sync.Mutex

	Delay time.Duration

	initialized bool
	dir         Direction
	mode        Mode
	steps       int
}

// NewMockStepper returns a mock stage
func NewMockStepper(delay time.Duration) *MockStepper {
	return &MockStepper{Delay: delay}
}

// Initialize records the direction and mode
func (m *MockStepper) Initialize(d Direction, mode Mode) error {
	if err := checkSetup(d, mode); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	m.initialized = true
	m.dir = d
	m.mode = mode
	m.steps = 0
	return nil
}

// Step counts one step
func (m *MockStepper) Step() error {
	m.Lock()
	defer m.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	m.steps++
	return nil
}

// Steps returns the number of steps taken since Initialize
func (m *MockStepper) Steps() int {
	m.Lock()
	defer m.Unlock()
	return m.steps
}

// Setup returns the direction and mode of the last Initialize
func (m *MockStepper) Setup() (Direction, Mode) {
	m.Lock()
	defer m.Unlock()
	return m.dir, m.mode
}
