package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Word is one letter-number pair on a wire line, such as G1 or X10.5.
type Word struct {
	W   byte
	Arg float64
}

// IsAxis reports whether the word names an axis. The rotary aliases A
// and B count even though the rig only drives X, Y, Z and C, since the
// firmware maps A onto the fourth physical axis.
func (w Word) IsAxis() bool {
	return strings.IndexByte("XYZABC", w.W) >= 0
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// String renders the word in wire form. Arguments are written with at
// most three decimals, the finest step the firmware resolves, and
// trailing zeros are dropped to keep lines inside the serial buffer.
func (w Word) String() string {
	return string(w.W) + trimFloat(w.Arg)
}

func trimFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func parseWord(s string) (Word, error) {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return Word{}, fmt.Errorf("bad word %q", s)
	}
	arg, err := strconv.ParseFloat(s[1:], 64)
	if err != nil {
		return Word{}, fmt.Errorf("bad argument in word %q", s)
	}
	return Word{W: s[0], Arg: arg}, nil
}
