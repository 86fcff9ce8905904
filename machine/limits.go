package machine

import (
	"fmt"
	"math"

	"github.com/scanbotics/rigctl/coord"
)

// AxisLimits is the allowed travel and speed for one axis.
type AxisLimits struct {
	Min     float64 `json:"min" yaml:"min"`
	Max     float64 `json:"max" yaml:"max"`
	MaxFeed float64 `json:"maxFeed" yaml:"max_feed"`
}

func (a AxisLimits) contains(v float64) bool {
	return v >= a.Min && v <= a.Max
}

// Limits is the soft-limit envelope. The turntable has no travel
// bounds: any finite angle is reachable by rotation.
type Limits struct {
	X AxisLimits `json:"x" yaml:"x"`
	Y AxisLimits `json:"y" yaml:"y"`
	Z AxisLimits `json:"z" yaml:"z"`
	C AxisLimits `json:"c" yaml:"c"`
}

// Check verifies the envelope itself is sane.
func (l Limits) Check() error {
	for _, ax := range []struct {
		name string
		lim  AxisLimits
	}{{"x", l.X}, {"y", l.Y}, {"c", l.C}} {
		if l.bounded(ax.name) && ax.lim.Min >= ax.lim.Max {
			return fmt.Errorf("machine: %s limits inverted, min %.3f >= max %.3f", ax.name, ax.lim.Min, ax.lim.Max)
		}
	}
	return nil
}

func (l Limits) bounded(name string) bool {
	switch name {
	case "x":
		return l.X.Min != 0 || l.X.Max != 0
	case "y":
		return l.Y.Min != 0 || l.Y.Max != 0
	case "c":
		return l.C.Min != 0 || l.C.Max != 0
	}
	return false
}

// Validate rejects a target outside the envelope. Every axis must be
// finite; X, Y and C must also sit inside their travel. The turntable
// angle is exempt from range checks.
func (l Limits) Validate(p coord.Point) error {
	for _, a := range coord.Axes {
		v := p.Get(a)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &LimitError{Axis: string(a), Value: v, Min: math.Inf(-1), Max: math.Inf(1)}
		}
	}
	if l.bounded("x") && !l.X.contains(p.X) {
		return &LimitError{Axis: "X", Value: p.X, Min: l.X.Min, Max: l.X.Max}
	}
	if l.bounded("y") && !l.Y.contains(p.Y) {
		return &LimitError{Axis: "Y", Value: p.Y, Min: l.Y.Min, Max: l.Y.Max}
	}
	if l.bounded("c") && !l.C.contains(p.C) {
		return &LimitError{Axis: "C", Value: p.C, Min: l.C.Min, Max: l.C.Max}
	}
	return nil
}

// MaxFeedAll is the lowest configured per-axis feed ceiling, or 0 when
// none is set.
func (l Limits) MaxFeedAll() float64 {
	min := 0.0
	for _, f := range []float64{l.X.MaxFeed, l.Y.MaxFeed, l.Z.MaxFeed, l.C.MaxFeed} {
		if f <= 0 {
			continue
		}
		if min == 0 || f < min {
			min = f
		}
	}
	return min
}
