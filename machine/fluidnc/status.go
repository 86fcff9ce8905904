package fluidnc

import (
	"errors"
	"strconv"
	"strings"

	"github.com/scanbotics/rigctl/coord"
)

// Report is a decoded <...> status telegram. Positions are 4-axis;
// firmware builds that report only three values leave C at its
// previous value.
type Report struct {
	// State is the raw firmware state name, e.g. "Idle" or "Hold:0".
	State string

	MPos coord.Point // machine position
	WPos coord.Point // work position (MPos - WCO)
	WCO  coord.Point // work coordinate offset

	Feed    float64
	Spindle float64

	Planner int // free planner-buffer slots
	RxFree  int // free serial rx-buffer bytes

	// Extra retains sections with unrecognized keys verbatim, so new
	// firmware fields survive a round trip instead of vanishing.
	Extra map[string]string
}

// StateIs compares the report's state name (ignoring any ":N"
// sub-state suffix) case-insensitively.
func (r Report) StateIs(name string) bool {
	base, _, _ := strings.Cut(r.State, ":")
	return strings.EqualFold(base, name)
}

// DecodeStatus parses a <...> payload. Sections may appear in any
// order. Fields that fail to parse keep the value they have in prev,
// so one garbled number does not invalidate a whole report.
func DecodeStatus(line string, prev Report) (Report, error) {
	body := strings.TrimSpace(line)
	body = strings.TrimPrefix(body, "<")
	body = strings.TrimSuffix(body, ">")
	if body == "" {
		return prev, errors.New("empty status payload")
	}

	parts := strings.Split(body, "|")
	if parts[0] == "" || strings.Contains(parts[0], ",") {
		return prev, errors.New("missing state name")
	}

	rep := prev
	rep.State = parts[0]
	rep.Extra = nil

	for _, sec := range parts[1:] {
		if sec == "" {
			continue
		}
		key, val, _ := strings.Cut(sec, ":")
		switch {
		case strings.EqualFold(key, "MPos"):
			rep.MPos = decodeTuple(val, rep.MPos)
			rep.WPos = rep.MPos.Sub(rep.WCO)
		case strings.EqualFold(key, "WPos"):
			rep.WPos = decodeTuple(val, rep.WPos)
			rep.MPos = rep.WPos.Add(rep.WCO)
		case strings.EqualFold(key, "WCO"):
			rep.WCO = decodeTuple(val, rep.WCO)
			rep.WPos = rep.MPos.Sub(rep.WCO)
		case strings.EqualFold(key, "FS"):
			rep.Feed, rep.Spindle = decodePair(val, rep.Feed, rep.Spindle)
		case strings.EqualFold(key, "F"):
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				rep.Feed = f
			}
		case strings.EqualFold(key, "Bf"):
			p, r := decodePair(val, float64(rep.Planner), float64(rep.RxFree))
			rep.Planner, rep.RxFree = int(p), int(r)
		case strings.EqualFold(key, "A") || strings.EqualFold(key, "C"):
			// Some builds report the tilt axis as its own section
			// instead of a 4th position value. A non-numeric "A"
			// section is grbl's accessory-state field; keep it.
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				rep.MPos.C = f
				rep.WPos.C = f - rep.WCO.C
			} else {
				rep.retain(key, val)
			}
		default:
			rep.retain(key, val)
		}
	}
	return rep, nil
}

func (r *Report) retain(key, val string) {
	if r.Extra == nil {
		r.Extra = make(map[string]string)
	}
	r.Extra[key] = val
}

// decodeTuple parses 3 or 4 comma-separated floats into a point,
// falling back per-field to prev.
func decodeTuple(val string, prev coord.Point) coord.Point {
	p := prev
	for i, f := range strings.Split(val, ",") {
		if i == 4 {
			break
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			continue
		}
		p = p.Set(coord.Axes[i], v)
	}
	return p
}

func decodePair(val string, prevA, prevB float64) (float64, float64) {
	a, b := prevA, prevB
	fields := strings.Split(val, ",")
	if len(fields) > 0 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err == nil {
			a = v
		}
	}
	if len(fields) > 1 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err == nil {
			b = v
		}
	}
	return a, b
}
