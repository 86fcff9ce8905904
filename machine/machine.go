package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"

	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// Engine is the protocol surface the controller drives. Implemented
// by fluidnc.Conn; tests back it with an in-memory wire.
type Engine interface {
	SendLine(line string, timeout time.Duration) error
	Submit(line string) (*fluidnc.PendingCommand, error)
	SendImmediate(b byte) error
	Events() <-chan fluidnc.Message
	Close() error
}

var _ Engine = (*fluidnc.Conn)(nil)

// Config tunes one controller instance.
type Config struct {
	// Port is the serial device path, or "auto" to scan for one.
	Port string
	Baud int

	Limits Limits

	// TravelFeed is used for moves that do not name a feed rate,
	// JogFeed for jogs. mm/min for linear axes, deg/min for rotary.
	TravelFeed float64
	JogFeed    float64

	// CommandTimeout bounds a single line acknowledgement.
	// HomingTimeout bounds the whole homing cycle. IdleTimeout bounds
	// waiting for motion to finish, and also single-line acks while a
	// script keeps the planner full. SettleWindow is how long Idle
	// must hold before motion counts as done.
	CommandTimeout time.Duration
	HomingTimeout  time.Duration
	IdleTimeout    time.Duration
	SettleWindow   time.Duration
	ConnectTimeout time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Baud == 0 {
		cfg.Baud = fluidnc.DefaultBaud
	}
	if cfg.TravelFeed == 0 {
		cfg.TravelFeed = 1000
	}
	if cfg.JogFeed == 0 {
		cfg.JogFeed = 3000
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.HomingTimeout == 0 {
		cfg.HomingTimeout = 60 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if cfg.SettleWindow == 0 {
		cfg.SettleWindow = 300 * time.Millisecond
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return cfg
}

// setupLines put the firmware in the modal state the controller
// assumes: millimetres, absolute moves, units/min feed, auto reports.
var setupLines = []string{"G21", "G90", "G94", "$10=3"}

// Controller supervises one rig over one serial connection. It owns
// the cached MotionSnapshot, fans updates out to subscribers, and
// exposes blocking motion operations on top of the wire protocol.
type Controller struct {
	cfg    Config
	logger golog.Logger
	clk    clock.Clock

	dial func() (Engine, error)

	mu       sync.Mutex
	eng      Engine
	loopDone chan struct{}
	snap     MotionSnapshot
	subs     map[int64]chan MotionSnapshot
	subID    int64
	homing   *homingWatch
}

func New(cfg Config, logger golog.Logger) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:    cfg,
		logger: logger,
		clk:    clock.New(),
		subs:   make(map[int64]chan MotionSnapshot),
		snap:   MotionSnapshot{State: StateDisconnected},
	}
	c.dial = func() (Engine, error) {
		tr, err := fluidnc.OpenTransport(cfg.Port, cfg.Baud, logger)
		if err != nil {
			return nil, err
		}
		return fluidnc.NewConn(tr, logger, c.clk), nil
	}
	return c
}

// NewWithDialer wires a custom engine factory in place of the serial
// transport, for bench rigs and tests.
func NewWithDialer(cfg Config, logger golog.Logger, dial func() (Engine, error)) *Controller {
	c := New(cfg, logger)
	c.dial = dial
	return c
}

// Config returns the effective configuration, defaults applied.
func (c *Controller) Config() Config { return c.cfg }

// Connect opens the serial link and puts the firmware into a known
// modal state. A setup line the firmware rejects (a locked-out
// controller refuses gcode until unlocked) is logged and skipped;
// any other failure tears the connection back down.
func (c *Controller) Connect() error {
	c.mu.Lock()
	if c.eng != nil {
		c.mu.Unlock()
		return errors.New("machine: already connected")
	}
	eng, err := c.dial()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.eng = eng
	c.loopDone = make(chan struct{})
	c.snap = MotionSnapshot{
		State:     StateUnknown,
		Seq:       c.snap.Seq + 1,
		UpdatedAt: c.clk.Now(),
	}
	go c.loop(eng, c.loopDone)
	snap := c.snap
	c.mu.Unlock()
	c.fanout(snap)

	for _, line := range setupLines {
		err := eng.SendLine(line, c.cfg.ConnectTimeout)
		var rej *fluidnc.RejectError
		if errors.As(err, &rej) {
			c.logger.Warnw("setup line rejected, controller may be locked", "cmd", line, "error", err)
			continue
		}
		if err != nil {
			c.Disconnect()
			return fmt.Errorf("setup %q: %w", line, err)
		}
	}
	if err := eng.SendImmediate(fluidnc.ByteStatus); err != nil {
		c.Disconnect()
		return err
	}
	c.logger.Infow("connected", "port", c.cfg.Port)
	return nil
}

// Disconnect closes the engine and waits for the event loop to drain.
// Safe to call when already disconnected.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	eng, done := c.eng, c.loopDone
	c.eng = nil
	c.loopDone = nil
	c.mu.Unlock()
	if eng == nil {
		return nil
	}
	err := eng.Close()
	if done != nil {
		<-done
	}
	c.logger.Infow("disconnected")
	return err
}

// Snapshot returns the last known rig state.
func (c *Controller) Snapshot() MotionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Subscribe registers for snapshot updates. Slow receivers miss
// intermediate snapshots rather than stalling the event loop. The
// returned cancel must be called to release the subscription; the
// channel itself is never closed.
func (c *Controller) Subscribe() (<-chan MotionSnapshot, func()) {
	c.mu.Lock()
	c.subID++
	id := c.subID
	ch := make(chan MotionSnapshot, 64)
	c.subs[id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) engine() (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eng == nil {
		return nil, ErrNotConnected
	}
	return c.eng, nil
}

// loop consumes engine events until the connection dies, then marks
// the rig disconnected.
func (c *Controller) loop(eng Engine, done chan struct{}) {
	defer close(done)
	for msg := range eng.Events() {
		c.handle(msg)
	}

	c.mu.Lock()
	c.snap.State = StateDisconnected
	c.snap.Homed = false
	c.snap.Seq++
	c.snap.UpdatedAt = c.clk.Now()
	snap := c.snap
	c.mu.Unlock()
	c.feedHomingResolve(fluidnc.ErrClosed)
	c.fanout(snap)
}

func (c *Controller) handle(msg fluidnc.Message) {
	switch msg.Kind {
	case fluidnc.KindStatus:
		c.mu.Lock()
		rep := msg.Report
		c.snap.State = stateFromReport(rep)
		c.snap.MPos = rep.MPos
		c.snap.WPos = rep.WPos
		c.snap.Feed = rep.Feed
		if c.snap.State != StateAlarm {
			c.snap.AlarmCode = 0
		}
		c.snap.Seq++
		c.snap.UpdatedAt = msg.At
		snap := c.snap
		c.mu.Unlock()
		c.feedHoming(msg)
		c.fanout(snap)

	case fluidnc.KindAlarm:
		c.mu.Lock()
		c.snap.State = StateAlarm
		c.snap.AlarmCode = msg.Code
		// Alarms that interrupt motion lose position; treat them
		// all as position-invalidating.
		c.snap.Homed = false
		c.snap.Seq++
		c.snap.UpdatedAt = msg.At
		snap := c.snap
		c.mu.Unlock()
		c.logger.Warnw("alarm", "code", msg.Code, "error", (&AlarmError{Code: msg.Code}).Error())
		c.feedHoming(msg)
		c.fanout(snap)

	case fluidnc.KindDebug:
		c.feedHoming(msg)

	case fluidnc.KindJSON:
		c.logger.Debugw("firmware json", "value", msg.Value)
	}
}

// feedHoming routes one message to the homing session in progress, if
// any, and resolves the waiter once the session reaches a verdict.
func (c *Controller) feedHoming(msg fluidnc.Message) {
	c.mu.Lock()
	watch := c.homing
	c.mu.Unlock()
	if watch == nil {
		return
	}
	done, err := watch.sess.Observe(msg)
	if !done {
		return
	}
	watch.resolve(err)
	c.mu.Lock()
	if c.homing == watch {
		c.homing = nil
	}
	c.mu.Unlock()
}

// feedHomingResolve fails any homing in progress, for teardown paths.
func (c *Controller) feedHomingResolve(err error) {
	c.mu.Lock()
	watch := c.homing
	c.homing = nil
	c.mu.Unlock()
	if watch != nil {
		watch.resolve(err)
	}
}

func (c *Controller) fanout(snap MotionSnapshot) {
	c.mu.Lock()
	subs := make([]chan MotionSnapshot, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// RequestStatus asks the firmware for a fresh report and waits for it
// to land, returning the updated snapshot.
func (c *Controller) RequestStatus(ctx context.Context) (MotionSnapshot, error) {
	eng, err := c.engine()
	if err != nil {
		return c.Snapshot(), err
	}
	sub, cancel := c.Subscribe()
	defer cancel()
	prev := c.Snapshot().Seq
	if err := eng.SendImmediate(fluidnc.ByteStatus); err != nil {
		return c.Snapshot(), err
	}
	deadline := c.clk.Timer(c.cfg.CommandTimeout)
	defer deadline.Stop()
	for {
		select {
		case snap := <-sub:
			if snap.Seq > prev {
				return snap, nil
			}
		case <-deadline.C:
			return c.Snapshot(), fmt.Errorf("machine: no status report within %s: %w", c.cfg.CommandTimeout, ErrWaitTimeout)
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}
