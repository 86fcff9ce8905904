package machine

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("machine: not connected")
	ErrNotHomed     = errors.New("machine: position unknown, home first")
	ErrWaitTimeout  = errors.New("machine: motion did not settle in time")
	ErrInvalidFeed  = errors.New("machine: invalid feed rate")
	ErrInvalidJog   = errors.New("machine: jog delta must be finite and nonzero")
	ErrEStopped     = errors.New("machine: emergency stopped")
)

// LimitError reports a commanded target outside the configured soft
// limits for one axis.
type LimitError struct {
	Axis     string
	Value    float64
	Min, Max float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("machine: %s=%.3f outside range [%.3f, %.3f]", e.Axis, e.Value, e.Min, e.Max)
}

// AlarmError reports the controller locking itself out.
type AlarmError struct {
	Code int
}

func (e *AlarmError) Error() string {
	if t, ok := alarmText[e.Code]; ok {
		return fmt.Sprintf("machine: alarm %d (%s)", e.Code, t)
	}
	if e.Code == 0 {
		return "machine: alarm"
	}
	return fmt.Sprintf("machine: alarm %d", e.Code)
}

// grbl-family alarm code meanings.
var alarmText = map[int]string{
	1: "hard limit triggered, position lost",
	2: "motion target exceeds travel",
	3: "reset while in motion, position lost",
	4: "probe fail, not in expected initial state",
	5: "probe fail, did not contact",
	6: "homing fail, reset during cycle",
	7: "homing fail, door opened during cycle",
	8: "homing fail, limit switch still engaged after pull-off",
	9: "homing fail, limit switch not found",
}
