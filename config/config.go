// Package config loads and validates the rig configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scanbotics/rigctl/machine"
	"github.com/scanbotics/rigctl/machine/fluidnc"
)

// Duration accepts either a Go duration string ("90s", "300ms") or a
// bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Tag {
	case "!!int", "!!float":
		var f float64
		if err := value.Decode(&f); err != nil {
			return err
		}
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Feeds struct {
	// Travel is the default rate for positioning moves, Jog for
	// operator nudges. mm/min on linear axes, deg/min on rotary.
	Travel float64 `yaml:"travel" json:"travel"`
	Jog    float64 `yaml:"jog" json:"jog"`
}

type Timeouts struct {
	Connect Duration `yaml:"connect" json:"connect"`
	Command Duration `yaml:"command" json:"command"`
	Homing  Duration `yaml:"homing" json:"homing"`
	Idle    Duration `yaml:"idle" json:"idle"`
	Settle  Duration `yaml:"settle" json:"settle"`
}

type Server struct {
	Addr    string `yaml:"addr" json:"addr"`
	DataDir string `yaml:"data_dir" json:"dataDir"`
}

type Config struct {
	// Port is a serial device path, or "auto" to scan for a USB
	// bridge at connect time.
	Port string `yaml:"port" json:"port"`
	Baud int    `yaml:"baud" json:"baud"`

	Axes     machine.Limits `yaml:"axes" json:"axes"`
	Feeds    Feeds          `yaml:"feeds" json:"feeds"`
	Timeouts Timeouts       `yaml:"timeouts" json:"timeouts"`
	Server   Server         `yaml:"server" json:"server"`
}

// Default is the configuration for the stock scan rig: a 200mm square
// bed, a 90 degree tilt range, and conservative feeds.
func Default() Config {
	return Config{
		Port: "auto",
		Baud: fluidnc.DefaultBaud,
		Axes: machine.Limits{
			X: machine.AxisLimits{Min: 0, Max: 200, MaxFeed: 3000},
			Y: machine.AxisLimits{Min: 0, Max: 200, MaxFeed: 3000},
			Z: machine.AxisLimits{MaxFeed: 7200},
			C: machine.AxisLimits{Min: -45, Max: 45, MaxFeed: 1800},
		},
		Feeds: Feeds{Travel: 1500, Jog: 3000},
		Timeouts: Timeouts{
			Connect: Duration(10 * time.Second),
			Command: Duration(5 * time.Second),
			Homing:  Duration(90 * time.Second),
			Idle:    Duration(120 * time.Second),
			Settle:  Duration(300 * time.Millisecond),
		},
		Server: Server{Addr: ":8080", DataDir: "web"},
	}
}

// Load reads path on top of the defaults, so a partial file only
// overrides what it names.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set, or \"auto\"")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud %d out of range", c.Baud)
	}
	if c.Feeds.Travel <= 0 || c.Feeds.Jog <= 0 {
		return errors.New("feeds must be positive")
	}
	if err := c.Axes.Check(); err != nil {
		return err
	}
	for name, d := range map[string]Duration{
		"connect": c.Timeouts.Connect,
		"command": c.Timeouts.Command,
		"homing":  c.Timeouts.Homing,
		"idle":    c.Timeouts.Idle,
		"settle":  c.Timeouts.Settle,
	} {
		if d < 0 {
			return fmt.Errorf("timeout %s must not be negative", name)
		}
	}
	if c.Server.Addr == "" {
		return errors.New("server addr must be set")
	}
	return nil
}

// Machine maps the file schema onto a controller Config.
func (c Config) Machine() machine.Config {
	return machine.Config{
		Port:           c.Port,
		Baud:           c.Baud,
		Limits:         c.Axes,
		TravelFeed:     c.Feeds.Travel,
		JogFeed:        c.Feeds.Jog,
		ConnectTimeout: c.Timeouts.Connect.Std(),
		CommandTimeout: c.Timeouts.Command.Std(),
		HomingTimeout:  c.Timeouts.Homing.Std(),
		IdleTimeout:    c.Timeouts.Idle.Std(),
		SettleWindow:   c.Timeouts.Settle.Std(),
	}
}
