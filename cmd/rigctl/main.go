// rigctl drives a FluidNC-class scan rig: a 2-axis linear gantry, a
// continuous turntable, and a bounded tilt head behind one serial port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edaniels/golog"
	"github.com/spf13/cobra"

	"github.com/scanbotics/rigctl/config"
	"github.com/scanbotics/rigctl/machine"
)

type rootOptions struct {
	ConfigPath string
	Port       string
	Verbose    bool

	// dial overrides the serial engine factory (for testing).
	// If nil, the controller opens the configured port.
	dial func() (machine.Engine, error)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rigctl:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "rigctl",
		Short:         "Control a FluidNC scan rig over serial",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (built-in defaults when unset)")
	cmd.PersistentFlags().StringVarP(&opts.Port, "port", "p", "", `serial device, or "auto" to scan (overrides config)`)
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(
		newPortsCommand(opts),
		newStatusCommand(opts),
		newHomeCommand(opts),
		newMoveCommand(opts),
		newJogCommand(opts),
		newRunCommand(opts),
		newUnlockCommand(opts),
		newServeCommand(opts),
	)
	return cmd
}

func (o *rootOptions) logger() golog.Logger {
	if o.Verbose {
		return golog.NewDebugLogger("rigctl")
	}
	return golog.NewDevelopmentLogger("rigctl")
}

func (o *rootOptions) config() (config.Config, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		cfg, err = config.Load(o.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}
	if o.Port != "" {
		cfg.Port = o.Port
	}
	return cfg, nil
}

func (o *rootOptions) newController(cfg config.Config, logger golog.Logger) *machine.Controller {
	if o.dial != nil {
		return machine.NewWithDialer(cfg.Machine(), logger, o.dial)
	}
	return machine.New(cfg.Machine(), logger)
}

// signalContext cancels on SIGINT/SIGTERM so a long move or homing
// cycle aborts instead of leaving the process wedged on the rig.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withController connects to the rig, runs fn, and always disconnects.
func (o *rootOptions) withController(fn func(ctx context.Context, c *machine.Controller, cfg config.Config) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	logger := o.logger()

	c := o.newController(cfg, logger)
	if err := c.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := c.Disconnect(); err != nil {
			logger.Warnw("disconnect", "error", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()
	return fn(ctx, c, cfg)
}
