package fluidnc

import (
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaud is the rate FluidNC-class boards ship with.
const DefaultBaud = 115200

// readPoll bounds how long a transport read blocks before returning
// empty, so the reader loop can notice shutdown.
const readPoll = 20 * time.Millisecond

var (
	ErrPortNotFound = errors.New("fluidnc: no usb serial port found")
	ErrWriteFailed  = errors.New("fluidnc: serial write failed")
	ErrClosed       = errors.New("fluidnc: connection closed")
)

// rxUSBSerial matches the device names and USB product strings of the
// common USB-serial bridge chips.
var rxUSBSerial = regexp.MustCompile(`(?i)usb|serial|cp210|ch340|ftdi`)

// listPorts is swapped out in tests.
var listPorts = enumerator.GetDetailedPortsList

func matchPort(p *enumerator.PortDetails) bool {
	if rxUSBSerial.MatchString(p.Name) || rxUSBSerial.MatchString(p.Product) {
		return true
	}
	return p.IsUSB
}

// FindPort scans the system's serial devices and returns the first
// that looks like a USB bridge.
func FindPort() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if matchPort(p) {
			return p.Name, nil
		}
	}
	return "", ErrPortNotFound
}

// PortInfo describes one serial device for discovery UIs.
type PortInfo struct {
	Name      string `json:"name"`
	Product   string `json:"product,omitempty"`
	USB       bool   `json:"usb"`
	VID       string `json:"vid,omitempty"`
	PID       string `json:"pid,omitempty"`
	Candidate bool   `json:"candidate"`
}

// ListPorts enumerates serial devices, flagging the ones the "auto"
// heuristic would pick.
func ListPorts() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	res := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		res = append(res, PortInfo{
			Name:      p.Name,
			Product:   p.Product,
			USB:       p.IsUSB,
			VID:       p.VID,
			PID:       p.PID,
			Candidate: matchPort(p),
		})
	}
	return res, nil
}

// Transport owns the physical serial handle. All writes serialize on
// one mutex so concurrent immediate bytes never interleave with line
// traffic mid-write.
type Transport struct {
	logger golog.Logger
	name   string

	mu     sync.Mutex
	port   serial.Port
	closed bool
}

// OpenTransport opens the named device, or scans for one when name is
// "auto" or empty.
func OpenTransport(name string, baud int, logger golog.Logger) (*Transport, error) {
	if name == "" || name == "auto" {
		found, err := FindPort()
		if err != nil {
			return nil, err
		}
		logger.Infow("auto-detected serial port", "port", found)
		name = found
	}
	if baud == 0 {
		baud = DefaultBaud
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
	}
	logger.Infow("serial port open", "port", name, "baud", baud)
	return &Transport{logger: logger, name: name, port: port}, nil
}

// Read returns whatever bytes are buffered, or n=0 after the poll
// interval when the line is quiet. It never blocks indefinitely.
func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n, err := t.port.Read(p)
	if err != nil {
		t.mu.Lock()
		closed = t.closed
		t.mu.Unlock()
		if closed {
			return n, ErrClosed
		}
		return n, fmt.Errorf("read %s: %w", t.name, err)
	}
	return n, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	n, err := t.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %v: %w", t.name, err, ErrWriteFailed)
	}
	if n < len(p) {
		return n, fmt.Errorf("write %s: short write %d of %d: %w", t.name, n, len(p), ErrWriteFailed)
	}
	return n, nil
}

// Close releases the device. Calling it again is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.logger.Infow("serial port closed", "port", t.name)
	return t.port.Close()
}
