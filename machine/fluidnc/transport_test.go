package fluidnc

import (
	"errors"
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func stubPorts(t *testing.T, ports []*enumerator.PortDetails, err error) {
	t.Helper()
	orig := listPorts
	listPorts = func() ([]*enumerator.PortDetails, error) { return ports, err }
	t.Cleanup(func() { listPorts = orig })
}

func TestMatchPort(t *testing.T) {
	cases := []struct {
		name string
		port enumerator.PortDetails
		want bool
	}{
		{"usb device path", enumerator.PortDetails{Name: "/dev/ttyUSB0"}, true},
		{"acm with usb flag", enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true}, true},
		{"cp210x product", enumerator.PortDetails{Name: "/dev/ttyACM1", Product: "CP2102N USB to UART Bridge"}, true},
		{"ch340 product", enumerator.PortDetails{Name: "COM3", Product: "USB-SERIAL CH340"}, true},
		{"ftdi product", enumerator.PortDetails{Name: "COM4", Product: "FTDI FT232R"}, true},
		{"onboard uart", enumerator.PortDetails{Name: "/dev/ttyS0"}, false},
		{"mac usbserial", enumerator.PortDetails{Name: "/dev/cu.usbserial-0001"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.port
			assert.Equal(t, tc.want, matchPort(&p))
		})
	}
}

func TestFindPort(t *testing.T) {
	stubPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60"},
		{Name: "/dev/ttyUSB1", IsUSB: true},
	}, nil)

	name, err := FindPort()
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", name, "first candidate wins")
}

func TestFindPort_NoneFound(t *testing.T) {
	stubPorts(t, []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil)

	_, err := FindPort()
	require.ErrorIs(t, err, ErrPortNotFound)
}

func TestFindPort_EnumerationError(t *testing.T) {
	boom := errors.New("no permission")
	stubPorts(t, nil, boom)

	_, err := FindPort()
	require.ErrorIs(t, err, boom)
}

func TestListPorts(t *testing.T) {
	stubPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4", PID: "EA60", Product: "CP2102N"},
	}, nil)

	ports, err := ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 2)

	assert.Equal(t, PortInfo{Name: "/dev/ttyS0"}, ports[0])
	assert.Equal(t, PortInfo{
		Name:      "/dev/ttyUSB0",
		Product:   "CP2102N",
		USB:       true,
		VID:       "10C4",
		PID:       "EA60",
		Candidate: true,
	}, ports[1])
}

func TestOpenTransport_AutoWithoutDevice(t *testing.T) {
	stubPorts(t, nil, nil)

	_, err := OpenTransport("auto", 0, golog.NewTestLogger(t))
	require.ErrorIs(t, err, ErrPortNotFound)
}
