// Package fluidnctest provides an in-memory rig that speaks the
// FluidNC wire dialect over an io.ReadWriteCloser, for tests that
// need the full serial dialogue without hardware.
package fluidnctest

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
)

// Sim emulates a FluidNC-class controller: line commands answered
// with ok/error, immediate bytes handled out-of-band, status
// telegrams on request or automatically after $10=3.
type Sim struct {
	// Silent suppresses all replies to line commands; they are still
	// recorded. For timeout tests.
	Silent bool

	// ReplyHook, when set, is consulted first for every line
	// command. Returning handled=true short-circuits the built-in
	// behavior.
	ReplyHook func(line string) (handled bool, replies []string)

	// HomingReject, when non-zero, answers $H with error:N.
	HomingReject int
	// HomingMute, when true, swallows $H entirely: no chatter, no
	// reply.
	HomingMute bool
	// HomingAlarm, when non-zero, starts the cycle then raises
	// ALARM:N instead of finishing.
	HomingAlarm int

	// MoveDelay holds motion in the Run state for this long before
	// the rig settles back to Idle. Zero completes moves instantly.
	MoveDelay time.Duration

	mu        sync.Mutex
	out       chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
	lineBuf   []byte

	pos        coord.Point
	wco        coord.Point
	state      string
	relative   bool
	feed       float64
	homed      bool
	autoReport bool

	lines      []string
	immediates []byte
}

func New() *Sim {
	return &Sim{
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
		state:  "Idle",
	}
}

// Read blocks until the firmware side has output, or returns io.EOF
// once closed.
func (s *Sim) Read(p []byte) (int, error) {
	if len(s.pending) > 0 {
		n := copy(p, s.pending)
		s.pending = s.pending[n:]
		return n, nil
	}
	select {
	case b := <-s.out:
		n := copy(p, b)
		s.pending = b[n:]
		return n, nil
	case <-s.closed:
		return 0, io.EOF
	}
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range p {
		switch b {
		case '?', '!', '~', 0x18, 0x85:
			s.immediates = append(s.immediates, b)
			s.handleImmediate(b)
		case '\n', '\r':
			if len(s.lineBuf) > 0 {
				line := string(s.lineBuf)
				s.lineBuf = s.lineBuf[:0]
				s.handleLine(line)
			}
		default:
			s.lineBuf = append(s.lineBuf, b)
		}
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Emit injects one raw line of firmware output.
func (s *Sim) Emit(line string) {
	select {
	case s.out <- []byte(line + "\n"):
	case <-s.closed:
	}
}

// EmitStatus pushes a status telegram reflecting the current
// simulated state.
func (s *Sim) EmitStatus() {
	s.mu.Lock()
	line := s.statusLine()
	s.mu.Unlock()
	s.Emit(line)
}

// SetState overrides the reported state name ("Run", "Hold:0", ...).
func (s *Sim) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// SetPos overrides the simulated machine position.
func (s *Sim) SetPos(p coord.Point) {
	s.mu.Lock()
	s.pos = p
	s.mu.Unlock()
}

// Lines returns every line command received so far.
func (s *Sim) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Immediates returns every immediate byte received so far.
func (s *Sim) Immediates() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.immediates...)
}

// Pos returns the simulated machine position.
func (s *Sim) Pos() coord.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Homed reports whether a homing cycle has completed.
func (s *Sim) Homed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.homed
}

// emit is the lock-held variant of Emit.
func (s *Sim) emit(line string) {
	select {
	case s.out <- []byte(line + "\n"):
	case <-s.closed:
	default:
	}
}

func (s *Sim) statusLine() string {
	return fmt.Sprintf("<%s|MPos:%.3f,%.3f,%.3f,%.3f|FS:%.0f,0|Bf:15,128|WCO:%.3f,%.3f,%.3f,%.3f>",
		s.state,
		s.pos.X, s.pos.Y, s.pos.Z, s.pos.C,
		s.feed,
		s.wco.X, s.wco.Y, s.wco.Z, s.wco.C)
}

func (s *Sim) report() {
	if s.autoReport {
		s.emit(s.statusLine())
	}
}

func (s *Sim) handleImmediate(b byte) {
	switch b {
	case '?':
		s.emit(s.statusLine())
	case '!':
		if s.state == "Run" || s.state == "Jog" {
			s.state = "Hold:0"
		}
		s.report()
	case '~':
		if strings.HasPrefix(s.state, "Hold") {
			s.state = "Run"
		}
		s.report()
	case 0x18:
		s.lineBuf = s.lineBuf[:0]
		moving := s.state == "Run" || s.state == "Jog" || strings.HasPrefix(s.state, "Hold")
		if moving {
			// Position is lost when motion is interrupted.
			s.state = "Alarm"
			s.homed = false
		} else {
			s.state = "Idle"
		}
		s.emit("Grbl 3.7 [FluidNC v3.7.8 ready]")
		s.report()
	case 0x85:
		if s.state == "Jog" {
			s.state = "Idle"
		}
		s.report()
	}
}

func (s *Sim) handleLine(line string) {
	s.lines = append(s.lines, line)
	if s.Silent {
		return
	}
	if s.ReplyHook != nil {
		if handled, replies := s.ReplyHook(line); handled {
			for _, r := range replies {
				s.emit(r)
			}
			return
		}
	}

	switch {
	case strings.HasPrefix(line, "$H"):
		s.runHoming()
	case line == "$X":
		s.state = "Idle"
		s.emit("ok")
		s.report()
	case strings.HasPrefix(line, "$J="):
		s.handleJog(strings.TrimPrefix(line, "$J="))
	case strings.HasPrefix(line, "$10="):
		s.autoReport = true
		s.emit("ok")
	case strings.HasPrefix(line, "$"):
		s.emit("ok")
	default:
		s.handleGcode(line)
	}
}

func (s *Sim) runHoming() {
	if s.HomingReject != 0 {
		s.emit(fmt.Sprintf("error:%d", s.HomingReject))
		return
	}
	if s.HomingMute {
		return
	}

	s.state = "Home"
	s.report()
	s.emit("[MSG:DBG: Homing Cycle X]")
	if s.HomingAlarm != 0 {
		s.state = "Alarm"
		s.homed = false
		s.emit(fmt.Sprintf("ALARM:%d", s.HomingAlarm))
		s.report()
		return
	}
	for _, a := range coord.Axes {
		s.emit("[MSG:DBG:Homed:" + a.String() + "]")
	}
	s.emit("[MSG:DBG: Homing done]")
	s.pos = coord.Point{}
	s.wco = coord.Point{}
	s.homed = true
	s.state = "Idle"
	s.emit("ok")
	s.emit(s.statusLine())
}

func (s *Sim) handleJog(body string) {
	blocks, err := gcode.Parse(body)
	if err != nil || len(blocks) != 1 {
		s.emit("error:16")
		return
	}
	if s.state == "Alarm" {
		s.emit("error:9")
		return
	}
	target := s.pos
	for _, w := range blocks[0] {
		if ax, ok := coord.ParseAxis(string(w.W)); ok {
			// $J= jogs carry G91 in this dialect, deltas only.
			target = target.Set(ax, target.Get(ax)+w.Arg)
		} else if w.W == 'F' {
			s.feed = w.Arg
		}
	}
	s.pos = target
	if s.MoveDelay > 0 {
		s.state = "Jog"
		s.emit("ok")
		s.report()
		s.settleAfter("Jog")
		return
	}
	s.emit("ok")
	s.report()
}

func (s *Sim) handleGcode(line string) {
	if s.state == "Alarm" {
		s.emit("error:9")
		return
	}
	blocks, err := gcode.Parse(line)
	if err != nil || len(blocks) != 1 {
		s.emit("error:20")
		return
	}
	block := blocks[0]

	var motion bool
	target := s.pos
	for _, w := range block {
		switch {
		case w.W == 'G' && w.Arg == 90:
			s.relative = false
		case w.W == 'G' && w.Arg == 91:
			s.relative = true
		case w.W == 'G' && (w.Arg == 0 || w.Arg == 1):
			motion = true
		case w.W == 'G' && w.Arg == 92:
			// Declared position becomes a work offset shift.
			for _, aw := range block.Args() {
				if ax, ok := coord.ParseAxis(string(aw.W)); ok {
					s.wco = s.wco.Set(ax, s.pos.Get(ax)-aw.Arg)
				}
			}
			s.emit("ok")
			s.report()
			return
		case w.W == 'G' && w.Arg == 10:
			for _, aw := range block.Args() {
				if ax, ok := coord.ParseAxis(string(aw.W)); ok {
					s.wco = s.wco.Set(ax, s.pos.Get(ax)-aw.Arg)
				}
			}
			s.emit("ok")
			s.report()
			return
		case w.W == 'F':
			s.feed = w.Arg
		}
	}

	if motion {
		for _, w := range block {
			if ax, ok := coord.ParseAxis(string(w.W)); ok {
				if s.relative {
					target = target.Set(ax, target.Get(ax)+w.Arg)
				} else {
					target = target.Set(ax, w.Arg)
				}
			}
		}
		s.pos = target
		if s.MoveDelay > 0 {
			s.state = "Run"
			s.emit("ok")
			s.report()
			s.settleAfter("Run")
			return
		}
	}
	s.emit("ok")
	s.report()
}

// settleAfter flips the named transient state back to Idle once
// MoveDelay elapses.
func (s *Sim) settleAfter(from string) {
	time.AfterFunc(s.MoveDelay, func() {
		s.mu.Lock()
		if s.state == from {
			s.state = "Idle"
		}
		s.report()
		s.mu.Unlock()
	})
}
