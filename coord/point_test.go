package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3, C: 4}
	b := Point{X: 4, Y: 5, Z: 6, C: 7}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9, C: 11}, a.Add(b))
}

func TestPoint_Sub(t *testing.T) {
	a := Point{X: 5, Y: 7, Z: 9, C: 11}
	b := Point{X: 4, Y: 5, Z: 6, C: 7}

	assert.Equal(t, Point{X: 1, Y: 2, Z: 3, C: 4}, a.Sub(b))
}

func TestPoint_GetSet(t *testing.T) {
	var p Point
	for i, a := range Axes {
		p = p.Set(a, float64(i+1))
	}
	assert.Equal(t, Point{X: 1, Y: 2, Z: 3, C: 4}, p)
	assert.Equal(t, 3.0, p.Get(AxisZ))
	assert.Equal(t, 4.0, p.Get(AxisC))
}

func TestPoint_Finite(t *testing.T) {
	assert.True(t, Point{X: 1, Y: 2, Z: 3, C: 4}.Finite())
	assert.False(t, Point{X: nan()}.Finite())
	assert.False(t, Point{C: inf()}.Finite())
}

func nan() float64 { return 0 / zero }
func inf() float64 { return 1 / zero }

var zero float64

func TestWrapDeg(t *testing.T) {
	assert.Equal(t, 0.0, WrapDeg(360))
	assert.Equal(t, 90.0, WrapDeg(450))
	assert.Equal(t, 270.0, WrapDeg(-90))
	assert.Equal(t, 359.5, WrapDeg(-0.5))
	assert.Equal(t, 12.25, WrapDeg(12.25))
}

func TestParseAxis(t *testing.T) {
	a, ok := ParseAxis("X")
	assert.True(t, ok)
	assert.Equal(t, AxisX, a)

	// tilt axis may be reported as A by the firmware
	a, ok = ParseAxis("A")
	assert.True(t, ok)
	assert.Equal(t, AxisC, a)

	_, ok = ParseAxis("Q")
	assert.False(t, ok)
}

func TestPoint_String(t *testing.T) {
	p := Point{X: 1.5, Y: -2, Z: 90, C: 0.125}
	assert.Equal(t, "X1.500 Y-2.000 Z90.000 C0.125", p.String())
}
