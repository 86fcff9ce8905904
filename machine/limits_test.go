package machine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbotics/rigctl/coord"
)

func testLimits() Limits {
	return Limits{
		X: AxisLimits{Min: 0, Max: 200},
		Y: AxisLimits{Min: 0, Max: 150},
		C: AxisLimits{Min: -45, Max: 45},
	}
}

func TestLimits_Validate(t *testing.T) {
	l := testLimits()

	assert.NoError(t, l.Validate(coord.Point{X: 100, Y: 75, Z: 0, C: 0}))
	assert.NoError(t, l.Validate(coord.Point{X: 0, Y: 0, C: -45}), "bounds are inclusive")
	assert.NoError(t, l.Validate(coord.Point{X: 200, Y: 150, C: 45}))

	err := l.Validate(coord.Point{X: 200.001})
	var lerr *LimitError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "X", lerr.Axis)
	assert.Equal(t, 200.001, lerr.Value)

	require.ErrorAs(t, l.Validate(coord.Point{Y: -1}), &lerr)
	assert.Equal(t, "Y", lerr.Axis)

	require.ErrorAs(t, l.Validate(coord.Point{C: 50}), &lerr)
	assert.Equal(t, "C", lerr.Axis)
}

func TestLimits_TurntableUnbounded(t *testing.T) {
	l := testLimits()

	// any finite angle works, including far outside one revolution
	assert.NoError(t, l.Validate(coord.Point{X: 10, Z: 720}))
	assert.NoError(t, l.Validate(coord.Point{X: 10, Z: -9000}))

	var lerr *LimitError
	require.ErrorAs(t, l.Validate(coord.Point{Z: math.NaN()}), &lerr)
	require.ErrorAs(t, l.Validate(coord.Point{Z: math.Inf(1)}), &lerr)
}

func TestLimits_UnconfiguredAxisUnbounded(t *testing.T) {
	var l Limits
	assert.NoError(t, l.Validate(coord.Point{X: 1e6, Y: -1e6, C: 400}))
}

func TestLimits_Check(t *testing.T) {
	assert.NoError(t, testLimits().Check())

	bad := testLimits()
	bad.X = AxisLimits{Min: 10, Max: 5}
	assert.Error(t, bad.Check())
}

func TestLimits_MaxFeedAll(t *testing.T) {
	var l Limits
	assert.Equal(t, 0.0, l.MaxFeedAll(), "no ceiling configured")

	l.X.MaxFeed = 3000
	l.Y.MaxFeed = 1500
	l.C.MaxFeed = 2000
	assert.Equal(t, 1500.0, l.MaxFeedAll())
}

func TestLimitError_Message(t *testing.T) {
	err := &LimitError{Axis: "X", Value: 250, Min: 0, Max: 200}
	assert.EqualError(t, err, "machine: X=250.000 outside range [0.000, 200.000]")
}
