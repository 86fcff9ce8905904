package machine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// MachineState is the controller's lifecycle state as seen by callers.
type MachineState int

const (
	StateDisconnected MachineState = iota
	StateIdle
	StateMoving
	StateHoming
	StateHold
	StateAlarm
	StateEmergencyStop
	StateUnknown
)

func (s MachineState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateIdle:
		return "idle"
	case StateMoving:
		return "moving"
	case StateHoming:
		return "homing"
	case StateHold:
		return "hold"
	case StateAlarm:
		return "alarm"
	case StateEmergencyStop:
		return "estop"
	case StateUnknown:
		return "unknown"
	}
	return fmt.Sprintf("MachineState(%d)", int(s))
}

func (s MachineState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *MachineState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st := StateDisconnected; st <= StateUnknown; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	*s = StateUnknown
	return nil
}

// stateFromReport maps a firmware state name onto the coarse states
// callers plan against. Sub-states like "Hold:0" or "Door:2" collapse
// into their base.
func stateFromReport(rep fluidnc.Report) MachineState {
	switch {
	case rep.StateIs("Idle"), rep.StateIs("Check"), rep.StateIs("Sleep"):
		return StateIdle
	case rep.StateIs("Run"), rep.StateIs("Jog"):
		return StateMoving
	case rep.StateIs("Home"):
		return StateHoming
	case rep.StateIs("Hold"), rep.StateIs("Door"):
		return StateHold
	case rep.StateIs("Alarm"):
		return StateAlarm
	}
	return StateUnknown
}

// MotionSnapshot is one immutable view of the rig. Seq increases with
// every accepted update so callers can tell fresh data from stale.
type MotionSnapshot struct {
	State     MachineState `json:"state"`
	MPos      coord.Point  `json:"mpos"`
	WPos      coord.Point  `json:"wpos"`
	Feed      float64      `json:"feed"`
	AlarmCode int          `json:"alarmCode,omitempty"`
	Homed     bool         `json:"homed"`
	Seq       int64        `json:"seq"`
	UpdatedAt time.Time    `json:"updatedAt"`
}
