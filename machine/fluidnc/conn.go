package fluidnc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
)

// Immediate control bytes. The firmware handles these out-of-band,
// ahead of anything queued in its line buffer.
const (
	ByteStatus    byte = '?'
	ByteHold      byte = '!'
	ByteResume    byte = '~'
	ByteReset     byte = 0x18
	ByteJogCancel byte = 0x85
)

var (
	ErrCommandTimeout = errors.New("fluidnc: command timed out")
	ErrBusy           = errors.New("fluidnc: a line command is already outstanding")
	ErrReset          = errors.New("fluidnc: controller reset")
)

// RejectError is the firmware's error:N reply to a line command.
type RejectError struct {
	Code int
	Line string
}

func (e *RejectError) Error() string {
	if t, ok := errorText[e.Code]; ok {
		return fmt.Sprintf("fluidnc: %q rejected, error:%d (%s)", e.Line, e.Code, t)
	}
	return fmt.Sprintf("fluidnc: %q rejected, error:%d", e.Line, e.Code)
}

// grbl-family error code meanings, for diagnostics.
var errorText = map[int]string{
	1:  "expected command letter",
	2:  "bad number format",
	3:  "invalid $ statement",
	4:  "negative value",
	5:  "homing not enabled",
	7:  "eeprom read fail",
	8:  "command requires idle state",
	9:  "locked out by alarm or jog",
	10: "soft limits require homing",
	11: "line overflow",
	13: "safety door open",
	15: "jog target exceeds travel",
	16: "invalid jog command",
	17: "laser mode requires pwm",
	20: "unsupported gcode command",
	21: "gcode modal group violation",
	22: "undefined feed rate",
	23: "gcode word requires integer",
	24: "conflicting gcode commands",
	25: "gcode word repeated",
}

// PendingCommand tracks one in-flight line command.
type PendingCommand struct {
	ID          int64
	Line        string
	SubmittedAt time.Time

	c  *Conn
	ch chan error

	// guarded by c.mu
	expired  bool
	resolved bool
}

// Done yields the firmware's verdict exactly once: nil for ok, a
// *RejectError for error:N, ErrClosed or ErrReset on teardown.
func (p *PendingCommand) Done() <-chan error { return p.ch }

// Abandon marks the command expired. A reply arriving afterwards is
// still matched to this slot, logged, and discarded, so it can never
// resolve a newer command.
func (p *PendingCommand) Abandon() {
	p.c.mu.Lock()
	if !p.resolved {
		p.expired = true
	}
	p.c.mu.Unlock()
}

// Conn is the protocol engine over one serial connection. A single
// reader goroutine owns all reads: it classifies traffic, resolves
// line-command acks in FIFO order, and forwards everything else on
// Events. Writers serialize through the underlying transport.
type Conn struct {
	rw     io.ReadWriteCloser
	logger golog.Logger
	clk    clock.Clock

	cl      *Classifier
	events  chan Message
	closeCh chan struct{}

	mu     sync.Mutex
	pend   []*PendingCommand
	nextID int64
	closed bool
}

func NewConn(rw io.ReadWriteCloser, logger golog.Logger, clk clock.Clock) *Conn {
	c := &Conn{
		rw:      rw,
		logger:  logger,
		clk:     clk,
		cl:      NewClassifier(logger, clk),
		events:  make(chan Message, 128),
		closeCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events delivers every classified message except command acks, which
// are consumed internally. The channel closes when the connection
// shuts down.
func (c *Conn) Events() <-chan Message { return c.events }

func (c *Conn) readLoop() {
	defer close(c.events)
	buf := make([]byte, 512)
	for {
		n, err := c.rw.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
			default:
				c.logger.Warnw("serial read failed, dropping connection", "error", err)
			}
			c.failPending(ErrClosed)
			return
		}
		if n == 0 {
			continue // quiet line, poll again
		}
		for _, msg := range c.cl.Feed(buf[:n]) {
			c.dispatch(msg)
		}
	}
}

func (c *Conn) dispatch(msg Message) {
	switch msg.Kind {
	case KindAck:
		c.resolveAck(msg)
		return
	case KindAlarm:
		c.logger.Warnw("alarm raised", "code", msg.Code)
	case KindDebug:
		c.logger.Debugw("firmware message", "text", msg.Text)
	case KindUnclassified:
		if strings.HasPrefix(msg.Raw, "Grbl ") || strings.Contains(msg.Raw, "FluidNC") {
			// Boot banner. The firmware restarted and flushed its
			// input queue, so no outstanding command will ever be
			// acknowledged.
			c.logger.Infow("controller reset detected", "banner", msg.Raw)
			c.failPending(ErrReset)
		} else {
			c.logger.Debugw("unclassified line", "line", msg.Raw)
		}
	}

	select {
	case c.events <- msg:
	default:
		c.logger.Warnw("event buffer full, dropping message", "kind", msg.Kind.String(), "line", msg.Raw)
	}
}

// resolveAck matches an ok/error reply to the oldest pending command.
func (c *Conn) resolveAck(msg Message) {
	c.mu.Lock()
	if len(c.pend) == 0 {
		c.mu.Unlock()
		c.logger.Warnw("reply with no command outstanding", "reply", msg.Raw)
		return
	}
	p := c.pend[0]
	c.pend = c.pend[1:]
	p.resolved = true
	if p.expired {
		c.mu.Unlock()
		c.logger.Warnw("late reply for timed-out command, discarding",
			"cmd", p.Line, "reply", msg.Raw, "waited", msg.At.Sub(p.SubmittedAt).String())
		return
	}
	var res error
	if !msg.Ok {
		res = &RejectError{Code: msg.Code, Line: p.Line}
	}
	p.ch <- res
	c.mu.Unlock()
}

func (c *Conn) failPending(err error) {
	c.mu.Lock()
	pend := c.pend
	c.pend = nil
	for _, p := range pend {
		p.resolved = true
		if !p.expired {
			p.ch <- err
		}
	}
	c.mu.Unlock()
}

// Submit writes line (newline appended) and registers it for FIFO
// reply matching. At most one unexpired command may be outstanding;
// a concurrent Submit fails with ErrBusy instead of risking reply
// misattribution.
func (c *Conn) Submit(line string) (*PendingCommand, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	for _, p := range c.pend {
		if !p.expired {
			c.mu.Unlock()
			return nil, fmt.Errorf("fluidnc: %q while %q awaits its reply: %w", line, p.Line, ErrBusy)
		}
	}
	c.nextID++
	pc := &PendingCommand{
		ID:          c.nextID,
		Line:        line,
		SubmittedAt: c.clk.Now(),
		c:           c,
		ch:          make(chan error, 1),
	}
	c.pend = append(c.pend, pc)
	c.mu.Unlock()

	if _, err := c.rw.Write([]byte(line + "\n")); err != nil {
		c.drop(pc)
		return nil, fmt.Errorf("send %q: %w", line, err)
	}
	c.logger.Debugw("line sent", "cmd", line, "id", pc.ID)
	return pc, nil
}

func (c *Conn) drop(pc *PendingCommand) {
	c.mu.Lock()
	for i, p := range c.pend {
		if p == pc {
			c.pend = append(c.pend[:i], c.pend[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

// SendLine submits line and waits for its reply or the timeout.
func (c *Conn) SendLine(line string, timeout time.Duration) error {
	pc, err := c.Submit(line)
	if err != nil {
		return err
	}
	t := c.clk.Timer(timeout)
	defer t.Stop()
	select {
	case err := <-pc.Done():
		return err
	case <-t.C:
		pc.Abandon()
		// The reply may have been matched in the same instant.
		select {
		case err := <-pc.Done():
			return err
		default:
		}
		return fmt.Errorf("fluidnc: %q unacknowledged after %s: %w", line, timeout, ErrCommandTimeout)
	}
}

// SendImmediate writes one unterminated control byte, bypassing the
// command queue. Allowed at any time, including while a line command
// is outstanding.
func (c *Conn) SendImmediate(b byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if _, err := c.rw.Write([]byte{b}); err != nil {
		return fmt.Errorf("immediate 0x%02x: %w", b, err)
	}
	if b == ByteReset {
		// Soft reset flushes the firmware's queue; nothing pending
		// will be acknowledged.
		c.failPending(ErrReset)
	}
	return nil
}

// Close tears the connection down. Outstanding commands resolve with
// ErrClosed and Events closes. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.closeCh)
	err := c.rw.Close()
	c.failPending(ErrClosed)
	return err
}
