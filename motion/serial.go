package motion

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/snksoft/crc"
	"golang.org/x/time/rate"

	"github.com/hsilab/pushbroom/comm"
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	// ErrBadChecksum is generated when a reply's CRC does not match its body
	ErrBadChecksum = errors.New("stepper reply checksum mismatch")
)

// StepperErr is an error reported by the controller firmware
type StepperErr string

func (e StepperErr) Error() string {
	return "stepper controller: " + string(e)
}

// crcHelper computes the CRC-16/XMODEM of buf as four hex digits
func crcHelper(buf []byte) []byte {
	crcUint := crcTable.InitCrc()
	crcUint = crcTable.UpdateCrc(crcUint, buf)
	c := crcTable.CRC16(crcUint)
	out := make([]byte, 4)
	hex.Encode(out, []byte{byte(c >> 8), byte(c)})
	return bytes.ToUpper(out)
}

// frameCommand produces "<cmd>*<crc>"
func frameCommand(cmd string) []byte {
	b := []byte(cmd)
	b = append(b, '*')
	return append(b, crcHelper([]byte(cmd))...)
}

// unframeReply checks the CRC on "<body>*<crc>" and returns body
func unframeReply(resp []byte) (string, error) {
	idx := bytes.LastIndexByte(resp, '*')
	if idx < 0 || len(resp)-idx-1 != 4 {
		return "", fmt.Errorf("%w: malformed reply %q", ErrBadChecksum, resp)
	}
	body, sum := resp[:idx], resp[idx+1:]
	if !bytes.EqualFold(sum, crcHelper(body)) {
		return "", fmt.Errorf("%w: reply %q", ErrBadChecksum, resp)
	}
	return string(body), nil
}

// SerialStepper drives a step/direction driver through a microcontroller
// speaking a checksummed line protocol:
//
//	MODE <ms1> <ms2>*XXXX    select microstepping
//	DIR <0|1>*XXXX           select direction
//	EN <0|1>*XXXX            enable or release the driver
//	STEP*XXXX                pulse once and wait for the motor to settle
//
// Each command is answered with OK*XXXX or ERR <reason>*XXXX, where XXXX is the
// CRC-16/XMODEM of the text before the asterisk.
type SerialStepper struct {
	*comm.RemoteDevice

	limiter *rate.Limiter

	mu          sync.Mutex
	initialized bool
	steps       int
}

// NewSerialStepper returns a stepper on the given link.  Steps are spaced by
// at least interval so the stage settles before the next capture.
func NewSerialStepper(addr string, serial bool, interval time.Duration) *SerialStepper {
	lim := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &SerialStepper{
		RemoteDevice: comm.NewRemoteDevice(addr, serial),
		limiter:      lim}
}

func (s *SerialStepper) command(cmd string) error {
	resp, err := s.SendRecv(frameCommand(cmd))
	if err != nil {
		return err
	}
	body, err := unframeReply(resp)
	if err != nil {
		return err
	}
	if body == "OK" {
		return nil
	}
	if strings.HasPrefix(body, "ERR") {
		return StepperErr(strings.TrimSpace(strings.TrimPrefix(body, "ERR")))
	}
	return fmt.Errorf("stepper controller: unexpected reply %q to %s", body, cmd)
}

// Initialize opens the link, sets mode and direction, and enables the driver
func (s *SerialStepper) Initialize(d Direction, m Mode) error {
	if err := checkSetup(d, m); err != nil {
		return err
	}
	ms1, ms2, _ := m.Pins()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Open(); err != nil {
		return err
	}
	cmds := []string{
		fmt.Sprintf("MODE %d %d", ms1, ms2),
		fmt.Sprintf("DIR %d", d),
		"EN 1",
	}
	for _, cmd := range cmds {
		if err := s.command(cmd); err != nil {
			return err
		}
	}
	s.initialized = true
	s.steps = 0
	return nil
}

// Step pulses the driver once, waiting first if the previous step was less
// than the settle interval ago
func (s *SerialStepper) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if err := s.limiter.Wait(context.Background()); err != nil {
		return err
	}
	if err := s.command("STEP"); err != nil {
		return err
	}
	s.steps++
	return nil
}

// Steps returns the number of steps taken since Initialize
func (s *SerialStepper) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Release disables the driver and closes the link
func (s *SerialStepper) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.initialized = false
		if err := s.command("EN 0"); err != nil {
			s.Close()
			return err
		}
	}
	return s.Close()
}
