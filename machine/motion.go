package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// checkedFeed substitutes the default for a zero feed, rejects
// nonsense, and clamps to the configured ceiling.
func (c *Controller) checkedFeed(feed, def float64) (float64, error) {
	if feed == 0 {
		feed = def
	}
	if feed <= 0 || math.IsNaN(feed) || math.IsInf(feed, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFeed, feed)
	}
	if max := c.cfg.Limits.MaxFeedAll(); max > 0 && feed > max {
		c.logger.Warnw("feed clamped", "requested", feed, "max", max)
		feed = max
	}
	return feed, nil
}

// MoveTo drives the rig to target machine coordinates and blocks until
// motion settles. The target is validated against the soft limits
// before any bytes reach the firmware, and the rig must be homed so
// those coordinates mean anything.
func (c *Controller) MoveTo(ctx context.Context, target coord.Point, feed float64) error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if !c.Snapshot().Homed {
		return ErrNotHomed
	}
	f, err := c.checkedFeed(feed, c.cfg.TravelFeed)
	if err != nil {
		return err
	}
	if err := c.cfg.Limits.Validate(target); err != nil {
		return err
	}

	line := gcode.MachineLinear(target, f).String()
	if err := eng.SendLine(line, c.cfg.CommandTimeout); err != nil {
		return err
	}
	return c.WaitForIdle(ctx, c.cfg.IdleTimeout)
}

// MoveRelative offsets from the last reported machine position. The
// cached position can lag the planner, so back-to-back relative moves
// should wait for each other rather than race.
func (c *Controller) MoveRelative(ctx context.Context, delta coord.Point, feed float64) error {
	return c.MoveTo(ctx, c.Snapshot().MPos.Add(delta), feed)
}

// SetPosition declares the rig's current physical position without
// motion, shifting the work frame so reports read p from here on.
// Meant for referencing an axis that has no switch: level the tilt
// head by eye, then declare it zero. Machine-frame moves are not
// affected.
func (c *Controller) SetPosition(p coord.Point) error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if !p.Finite() {
		return fmt.Errorf("machine: set position %s: not finite", p)
	}
	if err := eng.SendLine(gcode.SetPosition(p).String(), c.cfg.CommandTimeout); err != nil {
		return err
	}
	return eng.SendImmediate(fluidnc.ByteStatus)
}

// Jog nudges the rig by delta without waiting for completion. Jogs
// are allowed before homing so the operator can move clear of the
// switches; when the position is known the target is still checked
// against the soft limits.
func (c *Controller) Jog(delta coord.Point, feed float64) error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if !delta.Finite() || delta == (coord.Point{}) {
		return ErrInvalidJog
	}
	f, err := c.checkedFeed(feed, c.cfg.JogFeed)
	if err != nil {
		return err
	}
	snap := c.Snapshot()
	if snap.Homed {
		if err := c.cfg.Limits.Validate(snap.MPos.Add(delta)); err != nil {
			return err
		}
	}
	return eng.SendLine(gcode.Jog(delta, f), c.cfg.CommandTimeout)
}

// StopJog cancels any jog in flight, leaving queued line commands
// untouched.
func (c *Controller) StopJog() error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	return eng.SendImmediate(fluidnc.ByteJogCancel)
}

// Hold pauses motion with controlled deceleration.
func (c *Controller) Hold() error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if err := eng.SendImmediate(fluidnc.ByteHold); err != nil {
		return err
	}
	return eng.SendImmediate(fluidnc.ByteStatus)
}

// Resume continues after a hold.
func (c *Controller) Resume() error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if err := eng.SendImmediate(fluidnc.ByteResume); err != nil {
		return err
	}
	return eng.SendImmediate(fluidnc.ByteStatus)
}

// EmergencyStop halts motion with a feed hold, then soft-resets the
// firmware to flush everything queued. Position is considered lost.
// The rig recovers via Unlock and a fresh homing cycle.
func (c *Controller) EmergencyStop() error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	holdErr := eng.SendImmediate(fluidnc.ByteHold)
	resetErr := eng.SendImmediate(fluidnc.ByteReset)

	c.mu.Lock()
	c.snap.State = StateEmergencyStop
	c.snap.Homed = false
	c.snap.Seq++
	c.snap.UpdatedAt = c.clk.Now()
	snap := c.snap
	c.mu.Unlock()
	c.logger.Warnw("emergency stop")
	c.fanout(snap)

	if holdErr != nil {
		return holdErr
	}
	return resetErr
}

// Unlock clears an alarm lockout. Position stays unknown until the
// next homing cycle.
func (c *Controller) Unlock() error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if err := eng.SendLine("$X", c.cfg.CommandTimeout); err != nil {
		return err
	}
	c.mu.Lock()
	c.snap.AlarmCode = 0
	c.snap.Seq++
	c.snap.UpdatedAt = c.clk.Now()
	snap := c.snap
	c.mu.Unlock()
	c.fanout(snap)
	return eng.SendImmediate(fluidnc.ByteStatus)
}

// WaitForIdle blocks until the rig reports Idle continuously for the
// settle window, or fails fast once it reports a state motion cannot
// recover from. An Idle blip shorter than the window (status polls
// racing the planner) does not count as done.
func (c *Controller) WaitForIdle(ctx context.Context, timeout time.Duration) error {
	sub, cancel := c.Subscribe()
	defer cancel()

	deadline := c.clk.Timer(timeout)
	defer deadline.Stop()

	var settle *clock.Timer
	var settleC <-chan time.Time
	stopSettle := func() {
		if settle != nil {
			settle.Stop()
			settle = nil
			settleC = nil
		}
	}
	defer stopSettle()

	observe := func(snap MotionSnapshot) error {
		switch snap.State {
		case StateAlarm:
			return &AlarmError{Code: snap.AlarmCode}
		case StateEmergencyStop:
			return ErrEStopped
		case StateDisconnected:
			return ErrNotConnected
		case StateIdle:
			if settleC == nil {
				settle = c.clk.Timer(c.cfg.SettleWindow)
				settleC = settle.C
			}
		default:
			stopSettle()
		}
		return nil
	}

	if err := observe(c.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case snap := <-sub:
			if err := observe(snap); err != nil {
				return err
			}
		case <-settleC:
			return nil
		case <-deadline.C:
			return fmt.Errorf("machine: still %s after %s: %w", c.Snapshot().State, timeout, ErrWaitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunScript streams gcode blocks to the firmware one ack at a time,
// then waits for the rig to settle. Blocks are validated for word
// conflicts before sending; coordinate values are the firmware's to
// judge, since script moves may be relative or offset-shifted.
func (c *Controller) RunScript(ctx context.Context, r gcode.Reader) error {
	eng, err := c.engine()
	if err != nil {
		return err
	}
	if !c.Snapshot().Homed {
		return ErrNotHomed
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("machine: script block %d: %w", n+1, err)
		}
		if len(block) == 0 {
			continue
		}
		if err := block.Validate(); err != nil {
			return fmt.Errorf("machine: script block %d: %w", n+1, err)
		}
		// IdleTimeout, not CommandTimeout: with the planner full the
		// firmware withholds the ack until a slot frees up.
		if err := eng.SendLine(block.String(), c.cfg.IdleTimeout); err != nil {
			return fmt.Errorf("machine: script block %d %q: %w", n+1, block.String(), err)
		}
		n++
	}
	c.logger.Infow("script streamed", "blocks", n)
	return c.WaitForIdle(ctx, c.cfg.IdleTimeout)
}
