// Package vm replays G-code blocks against a virtual rig, tracking
// the position and modal state the firmware would hold. The
// controller uses it to pre-flight scripts against the travel limits
// before any motion starts.
package vm

import (
	"fmt"

	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
)

const mmPerInch = 25.4

type Machine struct {
	pos, wco coord.Point
	modal    [256]float64
	feed     float64
}

// New returns a Machine in the firmware's power-on modal state:
// millimetres, absolute moves, units/min feed. Motion defaults to G0
// through the zero value.
func New() *Machine {
	return &Machine{modal: [256]float64{
		gcode.ModalGroupCoordinateSystem: 54,
		gcode.ModalGroupPlaneSelection:   17,
		gcode.ModalGroupDistanceMode:     90,
		gcode.ModalGroupArcDistanceMode:  91.1,
		gcode.ModalGroupFeedRateMode:     94,
		gcode.ModalGroupUnits:            21,
	}}
}

// SetPosition seeds the tracker with the rig's current machine
// position so a replay starts from reality instead of origin.
func (m *Machine) SetPosition(p coord.Point) { m.pos = p }

func (m Machine) Inches() bool         { return m.modal[gcode.ModalGroupUnits] == 20 }
func (m Machine) RelativeMotion() bool { return m.modal[gcode.ModalGroupDistanceMode] == 91 }

func (m Machine) WPos() coord.Point { return m.pos.Sub(m.wco) }
func (m Machine) MPos() coord.Point { return m.pos }
func (m Machine) WCO() coord.Point  { return m.wco }
func (m Machine) Feed() float64     { return m.feed }

func (m Machine) unitScale() float64 {
	if m.Inches() {
		return mmPerInch
	}
	return 1
}

// supportedWord holds the rig's dialect: linear moves, dwells, unit
// and distance modes, work offsets, and the spindle-enable pair that
// doubles as the capture trigger. Arcs, tool changes and program
// control are rejected so they surface before streaming.
func supportedWord(g gcode.Word) bool {
	if _, ok := coord.ParseAxis(string(g.W)); ok {
		return true
	}
	switch g.W {
	case 'G':
		switch g.Arg {
		case 0, 1, 4, 20, 21, 53, 90, 91, 92, 92.1, 94:
			return true
		}
	case 'F', 'P':
		return true
	case 'M':
		switch g.Arg {
		case 3, 5:
			return true
		}
	}
	return false
}

// resolveTargets overlays the block's axis words onto base, scaling
// each value by scale.
func resolveTargets(base coord.Point, args gcode.Block, scale float64) coord.Point {
	for _, g := range args {
		if ax, ok := coord.ParseAxis(string(g.W)); ok {
			base = base.Set(ax, g.Arg*scale)
		}
	}
	return base
}

func hasAxisWord(b gcode.Block) bool {
	for _, g := range b {
		if _, ok := coord.ParseAxis(string(g.W)); ok {
			return true
		}
	}
	return false
}

// Run applies one block. Modal state persists across calls, matching
// how the firmware carries G90/G91 and units between lines.
func (m *Machine) Run(b gcode.Block) error {
	if err := b.Validate(); err != nil {
		return err
	}

	var machineCoords, setOffset, clearOffset bool
	for _, g := range b {
		if !supportedWord(g) {
			return fmt.Errorf("unsupported code %s", g)
		}
		mg := g.ModalGroup()
		if mg != gcode.ModalGroupNone && mg != gcode.ModalGroupNonModal {
			m.modal[mg] = g.Arg
		}
		if g.W == 'G' {
			switch g.Arg {
			case 53:
				machineCoords = true
			case 92:
				setOffset = true
			case 92.1:
				clearOffset = true
			}
		}
		if g.W == 'F' {
			m.feed = g.Arg
		}
	}

	scale := m.unitScale()

	if clearOffset {
		m.wco = coord.Point{}
		return nil
	}

	args := b.Args()
	if setOffset {
		// G92 shifts the work offset so the current position reads
		// as the named values.
		for _, g := range args {
			if ax, ok := coord.ParseAxis(string(g.W)); ok {
				m.wco = m.wco.Set(ax, m.pos.Get(ax)-g.Arg*scale)
			}
		}
		return nil
	}

	if !hasAxisWord(args) {
		return nil
	}

	switch {
	case m.RelativeMotion():
		m.pos = m.pos.Add(resolveTargets(coord.Point{}, args, scale))
	case machineCoords:
		// G53 bypasses the work offset only. Units still scale the
		// targets.
		m.pos = resolveTargets(m.pos, args, scale)
	default:
		m.pos = resolveTargets(m.WPos(), args, scale).Add(m.wco)
	}

	return nil
}
