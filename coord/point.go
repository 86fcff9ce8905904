package coord

import (
	"fmt"
	"math"
)

// Axis identifies one of the rig's four axes.
type Axis byte

const (
	AxisX Axis = 'X' // linear, millimetres
	AxisY Axis = 'Y' // linear, millimetres
	AxisZ Axis = 'Z' // turntable rotation, degrees, continuous
	AxisC Axis = 'C' // tilt rotation, degrees
)

// Axes lists the rig axes in canonical order.
var Axes = [4]Axis{AxisX, AxisY, AxisZ, AxisC}

func (a Axis) String() string { return string(a) }

// ParseAxis maps an axis letter to an Axis. The firmware labels the
// tilt axis 'A' in some builds; both spellings are accepted.
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "X", "x":
		return AxisX, true
	case "Y", "y":
		return AxisY, true
	case "Z", "z":
		return AxisZ, true
	case "C", "c", "A", "a":
		return AxisC, true
	}
	return 0, false
}

// Point is a rig position. X and Y are linear millimetres; Z is the
// turntable angle and C the tilt angle, both in degrees.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	C float64 `json:"c"`
}

// Get returns the value on the given axis.
func (p Point) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return p.X
	case AxisY:
		return p.Y
	case AxisZ:
		return p.Z
	case AxisC:
		return p.C
	}
	return 0
}

// Set returns a copy of p with the given axis replaced.
func (p Point) Set(a Axis, val float64) Point {
	switch a {
	case AxisX:
		p.X = val
	case AxisY:
		p.Y = val
	case AxisZ:
		p.Z = val
	case AxisC:
		p.C = val
	}
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	p.C += target.C
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	p.C -= target.C
	return p
}

// Finite reports whether every axis value is a real number.
func (p Point) Finite() bool {
	for _, a := range Axes {
		v := p.Get(a)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WrapDeg normalizes an angle in degrees into [0,360).
func WrapDeg(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func (p Point) String() string {
	return fmt.Sprintf("X%.3f Y%.3f Z%.3f C%.3f", p.X, p.Y, p.Z, p.C)
}
