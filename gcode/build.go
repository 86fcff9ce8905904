package gcode

import (
	"github.com/scanbotics/rigctl/coord"
)

func axisWords(p coord.Point) Block {
	return Block{
		{W: 'X', Arg: p.X},
		{W: 'Y', Arg: p.Y},
		{W: 'Z', Arg: p.Z},
		{W: 'C', Arg: p.C},
	}
}

// Rapid builds a G0 block moving every axis to p.
func Rapid(p coord.Point) Block {
	return append(Block{{W: 'G', Arg: 0}}, axisWords(p)...)
}

// Linear builds a G1 block moving every axis to p at the given
// feed rate (mm/min for linear axes, deg/min for rotary).
func Linear(p coord.Point, feed float64) Block {
	b := append(Block{{W: 'G', Arg: 1}}, axisWords(p)...)
	return append(b, Word{W: 'F', Arg: feed})
}

// MachineLinear is Linear pinned to machine coordinates with a G53
// prefix, so active work offsets cannot shift the target.
func MachineLinear(p coord.Point, feed float64) Block {
	return append(Block{{W: 'G', Arg: 53}}, Linear(p, feed)...)
}

// SetPosition builds the G92 block declaring the current physical
// position to be p.
func SetPosition(p coord.Point) Block {
	return append(Block{{W: 'G', Arg: 92}}, axisWords(p)...)
}

// ZeroWorkOffset builds a G10 L20 P1 block zeroing the work offset on
// the given axes only.
func ZeroWorkOffset(axes ...coord.Axis) Block {
	b := Block{{W: 'G', Arg: 10}, {W: 'L', Arg: 20}, {W: 'P', Arg: 1}}
	for _, a := range axes {
		b = append(b, Word{W: byte(a), Arg: 0})
	}
	return b
}

// Jog renders a $J= jog line moving by delta relative at the given
// feed. Zero-delta axes are omitted so the planner only touches axes
// the caller named.
func Jog(delta coord.Point, feed float64) string {
	b := Block{{W: 'G', Arg: 21}, {W: 'G', Arg: 91}}
	for _, a := range coord.Axes {
		if v := delta.Get(a); v != 0 {
			b = append(b, Word{W: byte(a), Arg: v})
		}
	}
	b = append(b, Word{W: 'F', Arg: feed})
	return "$J=" + b.String()
}
