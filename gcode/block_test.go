package gcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlock_String(t *testing.T) {
	b := Block{{W: 'G', Arg: 1}, {W: 'X', Arg: 10.5}, {W: 'Y', Arg: -0.25}, {W: 'F', Arg: 1500}}
	assert.Equal(t, "G1X10.5Y-0.25F1500", b.String())
}

func TestBlock_Arg(t *testing.T) {
	b := MustParse("G1X10Y20F500")[0]

	ok, v := b.Arg('X')
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	ok, _ = b.Arg('Z')
	assert.False(t, ok)
}

func TestBlock_Args(t *testing.T) {
	b := MustParse("G1X10C45F500")[0]
	assert.Equal(t, Block{{W: 'X', Arg: 10}, {W: 'C', Arg: 45}}, b.Args())
}

func TestBlock_Validate(t *testing.T) {
	assert.NoError(t, MustParse("G21G90")[0].Validate())
	assert.NoError(t, MustParse("G1X1Y2Z3C4F100")[0].Validate())

	err := MustParse("G0G1X1")[0].Validate()
	assert.ErrorContains(t, err, "motion")

	err = Block{{W: 'X', Arg: 1}, {W: 'X', Arg: 2}}.Validate()
	assert.ErrorContains(t, err, "repeated word X")

	assert.Error(t, Block{{W: '!', Arg: 1}}.Validate())
}

func TestWord_IsAxis(t *testing.T) {
	assert.True(t, Word{W: 'X'}.IsAxis())
	assert.True(t, Word{W: 'C'}.IsAxis())
	assert.True(t, Word{W: 'A'}.IsAxis())
	assert.False(t, Word{W: 'F'}.IsAxis())
	assert.False(t, Word{W: 'G'}.IsAxis())
}

func TestTrimFloat(t *testing.T) {
	assert.Equal(t, "10", trimFloat(10))
	assert.Equal(t, "10.5", trimFloat(10.5))
	assert.Equal(t, "10.125", trimFloat(10.125))
	assert.Equal(t, "0.333", trimFloat(1.0/3.0))
	assert.Equal(t, "-2", trimFloat(-2.0004))
}
