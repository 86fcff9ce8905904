package gcode

import (
	"fmt"
	"strings"
)

// Block is one line of G-code, split into words.
type Block []Word

// Arg returns the argument of the first word with the given letter.
func (b Block) Arg(letter byte) (bool, float64) {
	for _, w := range b {
		if w.W == letter {
			return true, w.Arg
		}
	}
	return false, 0
}

// Args returns the words that carry values rather than commands: axis
// targets, offsets, dwell times. Modal words and the feed rate are
// excluded.
func (b Block) Args() Block {
	args := make(Block, 0, len(b))
	for _, w := range b {
		if w.ModalGroup() == ModalGroupNone {
			args = append(args, w)
		}
	}
	return args
}

// String renders the block in wire form, words packed without spaces.
func (b Block) String() string {
	var sb strings.Builder
	for _, w := range b {
		sb.WriteString(w.String())
	}
	return sb.String()
}

// Validate rejects blocks the firmware would refuse: malformed words,
// repeated letters, or two commands from the same modal group.
func (b Block) Validate() error {
	var seenLetter [256]bool
	var groupWord [256]Word
	var groupSet [256]bool

	for _, w := range b {
		if !w.IsValid() {
			return fmt.Errorf("bad word %q", w.String())
		}
		if w.W != 'G' && seenLetter[w.W] {
			return fmt.Errorf("repeated word %c", w.W)
		}
		seenLetter[w.W] = true

		g := w.ModalGroup()
		if g == ModalGroupNone {
			continue
		}
		if groupSet[g] {
			return fmt.Errorf("%s and %s are both %s commands", groupWord[g], w, g)
		}
		groupWord[g], groupSet[g] = w, true
	}
	return nil
}
