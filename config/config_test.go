package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "auto", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 200.0, cfg.Axes.X.Max)
	assert.Equal(t, -45.0, cfg.Axes.C.Min)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Homing.Std())
}

func TestLoad_PartialOverride(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyUSB1
axes:
  c:
    min: -30
    max: 30
timeouts:
  homing: 45s
  settle: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud, "unnamed keys keep their defaults")
	assert.Equal(t, -30.0, cfg.Axes.C.Min)
	assert.Equal(t, 30.0, cfg.Axes.C.Max)
	assert.Equal(t, 200.0, cfg.Axes.X.Max)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Homing.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Settle.Std())
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Idle.Std())
}

func TestLoad_BareSecondsDuration(t *testing.T) {
	path := writeConfig(t, "timeouts:\n  homing: 45\n  settle: 0.25\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Timeouts.Homing.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Settle.Std())
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "timeouts:\n  homing: soon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `bad duration "soon"`)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Config)
		valid bool
	}{
		{"default", func(*Config) {}, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"zero baud", func(c *Config) { c.Baud = 0 }, false},
		{"negative travel feed", func(c *Config) { c.Feeds.Travel = -1 }, false},
		{"inverted axis", func(c *Config) { c.Axes.Y.Min, c.Axes.Y.Max = 10, 5 }, false},
		{"negative timeout", func(c *Config) { c.Timeouts.Idle = -1 }, false},
		{"no server addr", func(c *Config) { c.Server.Addr = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			if tc.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestMachineMapping(t *testing.T) {
	cfg := Default()
	cfg.Port = "/dev/ttyACM0"
	mc := cfg.Machine()

	assert.Equal(t, "/dev/ttyACM0", mc.Port)
	assert.Equal(t, cfg.Baud, mc.Baud)
	assert.Equal(t, cfg.Axes, mc.Limits)
	assert.Equal(t, 1500.0, mc.TravelFeed)
	assert.Equal(t, 3000.0, mc.JogFeed)
	assert.Equal(t, 90*time.Second, mc.HomingTimeout)
	assert.Equal(t, 300*time.Millisecond, mc.SettleWindow)
}
