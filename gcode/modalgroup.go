package gcode

// ModalGroup classifies words by the mode slot they occupy in the
// interpreter. Two words from one group cannot share a block, and one
// value per group stays active between blocks.
type ModalGroup byte

// The modal groups of the grbl dialect the rig firmware speaks.
const (
	ModalGroupNone ModalGroup = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupCoordinateSystem
	ModalGroupPlaneSelection
	ModalGroupDistanceMode
	ModalGroupArcDistanceMode
	ModalGroupFeedRateMode
	ModalGroupUnits
	ModalGroupCutterCompensation
	ModalGroupToolLength
	ModalGroupStopping
	ModalGroupSpindle
	ModalGroupCoolant
	ModalGroupOverride
	ModalGroupFeedRate
)

func (m ModalGroup) String() string {
	switch m {
	case ModalGroupNonModal:
		return "non-modal"
	case ModalGroupMotion:
		return "motion"
	case ModalGroupCoordinateSystem:
		return "coordinate system"
	case ModalGroupPlaneSelection:
		return "plane selection"
	case ModalGroupDistanceMode:
		return "distance mode"
	case ModalGroupArcDistanceMode:
		return "arc distance mode"
	case ModalGroupFeedRateMode:
		return "feed rate mode"
	case ModalGroupUnits:
		return "units"
	case ModalGroupCutterCompensation:
		return "cutter compensation"
	case ModalGroupToolLength:
		return "tool length"
	case ModalGroupStopping:
		return "stopping"
	case ModalGroupSpindle:
		return "spindle"
	case ModalGroupCoolant:
		return "coolant"
	case ModalGroupOverride:
		return "override"
	case ModalGroupFeedRate:
		return "feed rate"
	}
	return "none"
}

// ModalGroup returns the group the word belongs to, or ModalGroupNone
// for value words such as axis targets.
func (w Word) ModalGroup() ModalGroup {
	switch w.W {
	case 'F':
		return ModalGroupFeedRate
	case 'M':
		switch w.Arg {
		case 0, 1, 2, 30:
			return ModalGroupStopping
		case 3, 4, 5:
			return ModalGroupSpindle
		case 7, 8, 9:
			return ModalGroupCoolant
		case 56:
			return ModalGroupOverride
		}
	case 'G':
		switch w.Arg {
		case 0, 1, 2, 3, 38.2, 38.3, 38.4, 38.5, 80:
			return ModalGroupMotion
		case 4, 10, 28, 28.1, 30, 30.1, 53, 92, 92.1:
			return ModalGroupNonModal
		case 54, 55, 56, 57, 58, 59:
			return ModalGroupCoordinateSystem
		case 17, 18, 19:
			return ModalGroupPlaneSelection
		case 90, 91:
			return ModalGroupDistanceMode
		case 91.1:
			return ModalGroupArcDistanceMode
		case 93, 94:
			return ModalGroupFeedRateMode
		case 20, 21:
			return ModalGroupUnits
		case 40:
			return ModalGroupCutterCompensation
		case 43.1, 49:
			return ModalGroupToolLength
		}
	}
	return ModalGroupNone
}
