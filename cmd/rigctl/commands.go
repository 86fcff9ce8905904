package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scanbotics/rigctl/config"
	"github.com/scanbotics/rigctl/coord"
	"github.com/scanbotics/rigctl/gcode"
	"github.com/scanbotics/rigctl/machine"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

func newPortsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial devices, flagging likely rig ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := fluidnc.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial devices found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  DEVICE\tUSB\tVID:PID\tPRODUCT")
			for _, p := range ports {
				mark := " "
				if p.Candidate {
					mark = "*"
				}
				var id string
				if p.VID != "" || p.PID != "" {
					id = p.VID + ":" + p.PID
				}
				fmt.Fprintf(w, "%s %s\t%t\t%s\t%s\n", mark, p.Name, p.USB, id, p.Product)
			}
			return w.Flush()
		},
	}
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a fresh rig snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				snap, err := c.RequestStatus(ctx)
				if err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			})
		},
	}
}

func newHomeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "home [axis]",
		Short: "Run the homing cycle, for all axes or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				var err error
				if len(args) == 1 {
					axis, ok := coord.ParseAxis(args[0])
					if !ok {
						return fmt.Errorf("unknown axis %q", args[0])
					}
					err = c.HomeAxis(ctx, axis)
				} else {
					err = c.HomeAll(ctx)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "homed")
				printSnapshot(cmd.OutOrStdout(), c.Snapshot())
				return nil
			})
		},
	}
}

type axisFlags struct {
	X, Y, Z, C float64
}

func addAxisFlags(cmd *cobra.Command, f *axisFlags, what string) {
	cmd.Flags().Float64VarP(&f.X, "x", "x", 0, "X "+what+" (mm)")
	cmd.Flags().Float64VarP(&f.Y, "y", "y", 0, "Y "+what+" (mm)")
	cmd.Flags().Float64VarP(&f.Z, "z", "z", 0, "turntable "+what+" (deg)")
	cmd.Flags().Float64VarP(&f.C, "c", "c", 0, "tilt "+what+" (deg)")
}

// apply overlays the flags the user actually set onto base, returning
// how many axes changed.
func (f axisFlags) apply(cmd *cobra.Command, base coord.Point) (coord.Point, int) {
	n := 0
	for _, ax := range []struct {
		name string
		axis coord.Axis
		val  float64
	}{
		{"x", coord.AxisX, f.X},
		{"y", coord.AxisY, f.Y},
		{"z", coord.AxisZ, f.Z},
		{"c", coord.AxisC, f.C},
	} {
		if cmd.Flags().Changed(ax.name) {
			base = base.Set(ax.axis, ax.val)
			n++
		}
	}
	return base, n
}

func newMoveCommand(opts *rootOptions) *cobra.Command {
	var (
		axes     axisFlags
		feed     float64
		relative bool
	)
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Move to a position and wait for motion to finish",
		Long: `Move to an absolute machine position. Axes not named keep their
current position. With --relative the values are offsets instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, n := axes.apply(cmd, coord.Point{}); n == 0 {
				return fmt.Errorf("no axes given")
			}
			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				snap, err := c.RequestStatus(ctx)
				if err != nil {
					return err
				}
				if relative {
					delta, _ := axes.apply(cmd, coord.Point{})
					err = c.MoveRelative(ctx, delta, feed)
				} else {
					target, _ := axes.apply(cmd, snap.MPos)
					err = c.MoveTo(ctx, target, feed)
				}
				if err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), c.Snapshot())
				return nil
			})
		},
	}
	addAxisFlags(cmd, &axes, "target")
	cmd.Flags().Float64VarP(&feed, "feed", "f", 0, "feed rate (config default when unset)")
	cmd.Flags().BoolVarP(&relative, "relative", "r", false, "treat values as offsets from the current position")
	return cmd
}

func newJogCommand(opts *rootOptions) *cobra.Command {
	var (
		axes     axisFlags
		feed     float64
		cancelIt bool
	)
	cmd := &cobra.Command{
		Use:   "jog",
		Short: "Nudge the rig by a delta without waiting for idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, n := axes.apply(cmd, coord.Point{})
			if !cancelIt && n == 0 {
				return fmt.Errorf("no axes given")
			}
			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				if cancelIt {
					if err := c.StopJog(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "jog cancelled")
					return nil
				}
				if err := c.Jog(delta, feed); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "jog sent")
				return nil
			})
		},
	}
	addAxisFlags(cmd, &axes, "delta")
	cmd.Flags().Float64VarP(&feed, "feed", "f", 0, "feed rate (config default when unset)")
	cmd.Flags().BoolVar(&cancelIt, "cancel", false, "cancel any jog in flight instead of starting one")
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		homeFirst bool
		checkOnly bool
	)
	cmd := &cobra.Command{
		Use:   "run <file.gcode>",
		Short: "Stream a G-code file and wait for the rig to finish",
		Long: `Stream a G-code file to the rig. The script is replayed against the
travel limits first; a script that would leave the envelope is
rejected before any motion starts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			blocks, err := gcode.Parse(string(data))
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				if homeFirst {
					if err := c.HomeAll(ctx); err != nil {
						return err
					}
				}
				if err := c.CheckScript(blocks); err != nil {
					return err
				}
				if checkOnly {
					fmt.Fprintf(cmd.OutOrStdout(), "script ok: %d blocks\n", len(blocks))
					return nil
				}
				if err := c.RunScript(ctx, &gcode.BlocksReader{Blocks: blocks}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "done")
				printSnapshot(cmd.OutOrStdout(), c.Snapshot())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&homeFirst, "home", false, "run the homing cycle before streaming")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate the script against the rig's position and exit without moving")
	return cmd
}

func newUnlockCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Clear an alarm lockout ($X)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withController(func(ctx context.Context, c *machine.Controller, cfg config.Config) error {
				if err := c.Unlock(); err != nil {
					return err
				}
				snap, err := c.RequestStatus(ctx)
				if err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			})
		},
	}
}

func printSnapshot(w io.Writer, snap machine.MotionSnapshot) {
	fmt.Fprintf(w, "state:     %s\n", snap.State)
	if snap.State == machine.StateAlarm {
		fmt.Fprintf(w, "alarm:     %v\n", &machine.AlarmError{Code: snap.AlarmCode})
	}
	fmt.Fprintf(w, "homed:     %t\n", snap.Homed)
	fmt.Fprintf(w, "machine:   %s\n", snap.MPos)
	fmt.Fprintf(w, "work:      %s\n", snap.WPos)
	fmt.Fprintf(w, "turntable: %.3f deg\n", coord.WrapDeg(snap.MPos.Z))
	fmt.Fprintf(w, "tilt:      %.3f deg\n", snap.MPos.C)
	fmt.Fprintf(w, "feed:      %.0f\n", snap.Feed)
}
