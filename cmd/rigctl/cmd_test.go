package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanbotics/rigctl/machine/fluidnc/fluidnctest"
)

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{
		"ports", "status", "home", "move", "jog", "run", "unlock", "serve",
	})
}

func TestStatusCommand(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	out, err := runCommand(t, newStatusCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "state:")
	assert.Contains(t, out, "idle")
	assert.Contains(t, out, "turntable:")
}

func TestHomeCommand(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	out, err := runCommand(t, newHomeCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "homed")
	assert.Contains(t, sim.Lines(), "$H")
}

func TestHomeCommand_BadAxis(t *testing.T) {
	opts := &rootOptions{}
	_, err := runCommand(t, newHomeCommand(opts), "Q")
	require.ErrorContains(t, err, `unknown axis "Q"`)
}

func TestMoveCommand_NoAxes(t *testing.T) {
	opts := &rootOptions{}
	_, err := runCommand(t, newMoveCommand(opts))
	require.ErrorContains(t, err, "no axes given")
}

func TestJogCommand(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	out, err := runCommand(t, newJogCommand(opts), "-z", "90")
	require.NoError(t, err)
	assert.Contains(t, out, "jog sent")
	assert.Contains(t, sim.Lines(), "$J=G21G91Z90F3000")
}

func TestJogCommand_Cancel(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	out, err := runCommand(t, newJogCommand(opts), "--cancel")
	require.NoError(t, err)
	assert.Contains(t, out, "jog cancelled")
	assert.Contains(t, sim.Immediates(), byte(0x85))
}

func TestRunCommand(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	script := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(script, []byte("G1 X5 F500\nG1 X0 Y0\n"), 0644))

	out, err := runCommand(t, newRunCommand(opts), "--home", script)
	require.NoError(t, err)
	assert.Contains(t, out, "done")

	lines := sim.Lines()
	assert.Contains(t, lines, "$H")
	assert.Contains(t, lines, "G1X5F500")
	assert.Contains(t, lines, "G1X0Y0")
}

func TestRunCommand_CheckOnly(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	script := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(script, []byte("G1 X5 F500\nG1 X0 Y0\n"), 0644))

	out, err := runCommand(t, newRunCommand(opts), "--home", "--check", script)
	require.NoError(t, err)
	assert.Contains(t, out, "script ok: 2 blocks")
	assert.NotContains(t, sim.Lines(), "G1X5F500", "check mode must not stream")
}

func TestRunCommand_RejectsEnvelopeEscape(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	script := filepath.Join(t.TempDir(), "job.gcode")
	require.NoError(t, os.WriteFile(script, []byte("G1 X500 F500\n"), 0644))

	_, err := runCommand(t, newRunCommand(opts), "--home", script)
	require.ErrorContains(t, err, "outside range")
	assert.NotContains(t, sim.Lines(), "G1X500F500")
}

func TestRunCommand_MissingFile(t *testing.T) {
	opts := &rootOptions{}
	_, err := runCommand(t, newRunCommand(opts), "/does/not/exist.gcode")
	require.Error(t, err)
}

func TestUnlockCommand(t *testing.T) {
	sim := fluidnctest.New()
	opts := &rootOptions{dial: simDialer(t, sim)}

	out, err := runCommand(t, newUnlockCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "state:")
	assert.Contains(t, sim.Lines(), "$X")
}
