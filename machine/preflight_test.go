package machine

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/machine/fluidnc/fluidnctest"
)

func TestController_CheckScript(t *testing.T) {
	c := New(Config{Limits: testLimits()}, golog.NewTestLogger(t))

	ok := gcode.MustParse("G21 G90\nG1 X50 Y20 F800\nG91\nG1 Z360\nG90\n")
	require.NoError(t, c.CheckScript(ok))

	escape := gcode.MustParse("G1 X50 F800\nG1 X500\n")
	err := c.CheckScript(escape)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script block 2")
	assert.Contains(t, err.Error(), "outside range")

	arc := gcode.MustParse("G2 X5 Y5 I1 J1 F100\n")
	err = c.CheckScript(arc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported code")
}

func TestController_CheckScriptRelativeEscape(t *testing.T) {
	c := New(Config{Limits: testLimits()}, golog.NewTestLogger(t))

	// Each step is in range on its own; only the accumulated position
	// leaves the envelope.
	creep := gcode.MustParse("G91\nG1 X150 F800\nG1 X150\n")
	err := c.CheckScript(creep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script block 3")
}

func TestController_CheckScriptSeedsFromPosition(t *testing.T) {
	sim := fluidnctest.New()
	sim.SetPos(coord.Point{X: 190})
	c := newTestController(t, sim, Config{Limits: testLimits()})
	require.NoError(t, c.Connect())
	waitState(t, c, StateIdle)

	// Fine from the origin, but not from where the rig stands.
	step := gcode.MustParse("G91\nG1 X20 F500\n")
	err := c.CheckScript(step)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside range")

	require.NoError(t, c.CheckScript(gcode.MustParse("G91\nG1 X-20 F500\n")))
}

func TestController_CheckScriptTurntableUnbounded(t *testing.T) {
	c := New(Config{Limits: testLimits()}, golog.NewTestLogger(t))

	spins := gcode.MustParse("G91\nG1 Z720 F1000\nG1 Z720\nG1 Z720\n")
	require.NoError(t, c.CheckScript(spins), "continuous axis accumulates without limit")
}
