/*Package comm provides the line-oriented link to the stepper controller.

The controller is a microcontroller reached either over RS232/USB-serial or
through a TCP serial server.  Messages are ASCII lines; the link appends the
terminator on Send and strips it on Recv.

	rd := comm.NewRemoteDevice("/dev/ttyACM0", true)
	rd.Baud = 115200
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("PING"))

*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const terminator = byte('\n')

var (
	// ErrNotConnected is generated when Send or Recv is called before Open
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// RemoteDevice is a serial or TCP link with a line protocol.  It is safe for
// concurrent use; SendRecv holds the link for the full exchange.
type RemoteDevice struct {
	// Addr is a serial device path or a host:port
	Addr string

	// IsSerial selects serial (true) or TCP (false)
	IsSerial bool

	// Baud is the serial baud rate
	Baud int

	// Timeout bounds connecting and each read
	Timeout time.Duration

	// Conn is the open connection, nil when closed
	Conn io.ReadWriteCloser

	rd *bufio.Reader
	mu sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice with 9600 baud and a 3 second timeout
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		Baud:     9600,
		Timeout:  3 * time.Second}
}

// SerialConf yields the serial.Config used to open the port
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{Name: rd.Addr, Baud: rd.Baud, ReadTimeout: rd.Timeout}
}

// Open the connection, retrying with exponential backoff.  USB serial
// adapters on microcontrollers often refuse the first open after reset.
func (rd *RemoteDevice) Open() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	refused := false
	op := func() error {
		err := rd.open()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "refused") {
			refused = true
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.Timeout,
		Clock:               backoff.SystemClock})
	if err != nil && !refused {
		return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		conn, err = net.DialTimeout("tcp", rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rd = nil
	}
	return err
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if nc, ok := rd.Conn.(net.Conn); ok {
		nc.SetWriteDeadline(time.Now().Add(rd.Timeout))
	}
	msg := make([]byte, 0, len(b)+1)
	msg = append(append(msg, b...), terminator)
	_, err := rd.Conn.Write(msg)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if nc, ok := rd.Conn.(net.Conn); ok {
		nc.SetReadDeadline(time.Now().Add(rd.Timeout))
	}
	buf, err := rd.rd.ReadBytes(terminator)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimRight(buf, "\r\n"), nil
}

// Send writes a line to the remote
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.send(b)
}

// Recv reads a line from the remote with the terminator stripped
func (rd *RemoteDevice) Recv() ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.recv()
}

// SendRecv sends a line and returns the reply line
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}
