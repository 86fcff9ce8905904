package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scanbotics/rigctl/coord"
)

func TestLinear(t *testing.T) {
	b := Linear(coord.Point{X: 10, Y: 20.5, Z: 90, C: -5}, 1500)
	assert.Equal(t, "G1X10Y20.5Z90C-5F1500", b.String())
	assert.NoError(t, b.Validate())
}

func TestRapid(t *testing.T) {
	b := Rapid(coord.Point{X: 1.25})
	assert.Equal(t, "G0X1.25Y0Z0C0", b.String())
	assert.NoError(t, b.Validate())
}

func TestSetPosition(t *testing.T) {
	b := SetPosition(coord.Point{})
	assert.Equal(t, "G92X0Y0Z0C0", b.String())
	assert.NoError(t, b.Validate())
}

func TestZeroWorkOffset(t *testing.T) {
	b := ZeroWorkOffset(coord.AxisZ)
	assert.Equal(t, "G10L20P1Z0", b.String())
}

func TestJog(t *testing.T) {
	assert.Equal(t, "$J=G21G91X5F3000", Jog(coord.Point{X: 5}, 3000))
	assert.Equal(t, "$J=G21G91Z-10C2.5F600", Jog(coord.Point{Z: -10, C: 2.5}, 600))
}
