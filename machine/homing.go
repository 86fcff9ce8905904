package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// homingWatch pairs a homing session with the waiter it will resolve.
type homingWatch struct {
	sess *fluidnc.HomingSession

	once sync.Once
	done chan error
}

func newHomingWatch() *homingWatch {
	return &homingWatch{
		sess: fluidnc.NewHomingSession(),
		done: make(chan error, 1),
	}
}

func (w *homingWatch) resolve(err error) {
	w.once.Do(func() { w.done <- err })
}

// HomeAll runs the full homing cycle and blocks until the rig settles
// at its reference position. On success the position becomes trusted
// and coordinate-checked moves unlock.
func (c *Controller) HomeAll(ctx context.Context) error {
	return c.home(ctx, "$H")
}

// HomeAxis homes a single axis.
func (c *Controller) HomeAxis(ctx context.Context, axis coord.Axis) error {
	return c.home(ctx, "$H"+axis.String())
}

// home issues cmd and succeeds only once the firmware both
// acknowledges it and emits the cycle's terminal marker followed by a
// settled Idle report. The ack alone is not enough: FluidNC builds
// differ on whether the ok arrives up front or only when the cycle
// ends, so treating it as completion would succeed while the motors
// still seek their switches.
func (c *Controller) home(ctx context.Context, cmd string) (retErr error) {
	eng, err := c.engine()
	if err != nil {
		return err
	}

	watch := newHomingWatch()
	c.mu.Lock()
	if c.homing != nil {
		c.mu.Unlock()
		return errors.New("machine: homing already in progress")
	}
	c.homing = watch
	c.snap.State = StateHoming
	c.snap.Seq++
	c.snap.UpdatedAt = c.clk.Now()
	snap := c.snap
	c.mu.Unlock()
	c.fanout(snap)

	defer func() {
		c.mu.Lock()
		if c.homing == watch {
			c.homing = nil
		}
		c.mu.Unlock()
		if retErr != nil {
			// The optimistic Homing state may be stale now; let the
			// next report restore firmware truth.
			_ = eng.SendImmediate(fluidnc.ByteStatus)
		}
	}()

	pc, err := eng.Submit(cmd)
	if err != nil {
		return fmt.Errorf("machine: homing: %w", err)
	}

	deadline := c.clk.Timer(c.cfg.HomingTimeout)
	defer deadline.Stop()

	var ackOK, sessOK bool
	ackPending, sessPending := pc.Done(), watch.done
	for !ackOK || !sessOK {
		select {
		case err := <-ackPending:
			ackPending = nil
			if err != nil {
				return fmt.Errorf("machine: homing: %w", err)
			}
			ackOK = true
		case err := <-sessPending:
			sessPending = nil
			if err != nil {
				// Free the correlator slot: a cycle that alarmed out
				// may never acknowledge its command.
				pc.Abandon()
				return fmt.Errorf("machine: homing: %w", err)
			}
			sessOK = true
		case <-deadline.C:
			pc.Abandon()
			return watch.sess.TimeoutError()
		case <-ctx.Done():
			pc.Abandon()
			return ctx.Err()
		}
	}

	// Zero the turntable work offset so the continuous axis reads from
	// the homed reference.
	zero := gcode.ZeroWorkOffset(coord.AxisZ).String()
	if err := eng.SendLine(zero, c.cfg.CommandTimeout); err != nil {
		return fmt.Errorf("machine: homing: %w", err)
	}

	c.mu.Lock()
	c.snap.Homed = true
	c.snap.AlarmCode = 0
	c.snap.Seq++
	c.snap.UpdatedAt = c.clk.Now()
	snap = c.snap
	c.mu.Unlock()
	c.fanout(snap)
	c.logger.Infow("homing complete", "axes", watch.sess.HomedAxes())

	return eng.SendImmediate(fluidnc.ByteStatus)
}
