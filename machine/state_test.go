package machine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

func TestStateFromReport(t *testing.T) {
	cases := []struct {
		firmware string
		want     MachineState
	}{
		{"Idle", StateIdle},
		{"Check", StateIdle},
		{"Sleep", StateIdle},
		{"Run", StateMoving},
		{"Jog", StateMoving},
		{"Home", StateHoming},
		{"Hold:0", StateHold},
		{"Hold:1", StateHold},
		{"Door:2", StateHold},
		{"Alarm", StateAlarm},
		{"alarm", StateAlarm},
		{"Panic", StateUnknown},
	}
	for _, tc := range cases {
		rep := fluidnc.Report{State: tc.firmware}
		assert.Equal(t, tc.want, stateFromReport(rep), "firmware state %q", tc.firmware)
	}
}

func TestMachineState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "moving", StateMoving.String())
	assert.Equal(t, "homing", StateHoming.String())
	assert.Equal(t, "hold", StateHold.String())
	assert.Equal(t, "alarm", StateAlarm.String())
	assert.Equal(t, "estop", StateEmergencyStop.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}

func TestMotionSnapshot_JSON(t *testing.T) {
	snap := MotionSnapshot{
		State: StateIdle,
		MPos:  coord.Point{X: 1.5, Y: 2, Z: 90},
		Homed: true,
		Seq:   7,
	}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, `"state":"idle"`)
	assert.Contains(t, s, `"mpos":{"x":1.5,"y":2,"z":90,"c":0}`)
	assert.Contains(t, s, `"homed":true`)
	assert.Contains(t, s, `"seq":7`)
	assert.NotContains(t, s, "alarmCode", "zero alarm code is omitted")

	var back MotionSnapshot
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, snap, back)
}

func TestMachineState_UnmarshalJSON(t *testing.T) {
	var s MachineState
	require.NoError(t, json.Unmarshal([]byte(`"estop"`), &s))
	assert.Equal(t, StateEmergencyStop, s)

	require.NoError(t, json.Unmarshal([]byte(`"warpdrive"`), &s))
	assert.Equal(t, StateUnknown, s)

	require.Error(t, json.Unmarshal([]byte(`42`), &s))
}
