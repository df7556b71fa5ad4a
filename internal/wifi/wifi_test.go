package wifi

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
)

const routeTable = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	00000000	FE01A8C0	0003	0	0	100	00000000	0	0	0
wlan0	0001A8C0	00000000	0001	0	0	600	00FFFFFF	0	0	0
wlan0	00000000	0101A8C0	0003	0	0	600	00000000	0	0	0
`

func writeRouteTable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "route")
	require.NoError(t, os.WriteFile(path, []byte(routeTable), 0600))
	return path
}

func staticLookup(addrs []net.Addr, flags net.Flags, err error) func(string) ([]net.Addr, net.Flags, error) {
	return func(string) ([]net.Addr, net.Flags, error) { return addrs, flags, err }
}

func wlanAddrs() []net.Addr {
	_, v6, _ := net.ParseCIDR("fe80::1/64")
	return []net.Addr{
		v6,
		&net.IPNet{IP: net.ParseIP("192.168.1.42"), Mask: net.CIDRMask(24, 32)},
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default().WiFi

	a, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &NmcliAdapter{}, a)

	cfg.Driver = "interface"
	a, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &InterfaceAdapter{}, a)

	cfg.Driver = "esp"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNetInfo(t *testing.T) {
	info := netInfo{name: "wlan0", routePath: writeRouteTable(t), lookup: staticLookup(wlanAddrs(), net.FlagUp, nil)}

	ip, mask, ok := info.ipv4()
	require.True(t, ok)
	assert.Equal(t, "192.168.1.42", ip.String())
	assert.Equal(t, "ffffff00", mask.String())
	assert.Equal(t, "192.168.1.1", info.gateway().String())

	t.Run("interface down", func(t *testing.T) {
		down := info
		down.lookup = staticLookup(wlanAddrs(), 0, nil)
		_, _, ok := down.ipv4()
		assert.False(t, ok)
	})

	t.Run("lookup error", func(t *testing.T) {
		missing := info
		missing.lookup = staticLookup(nil, 0, stderrors.New("no such interface"))
		_, _, ok := missing.ipv4()
		assert.False(t, ok)
	})

	t.Run("no default route", func(t *testing.T) {
		other := info
		other.name = "usb0"
		assert.Nil(t, other.gateway())
	})

	t.Run("missing route table", func(t *testing.T) {
		other := info
		other.routePath = filepath.Join(t.TempDir(), "absent")
		assert.Nil(t, other.gateway())
	})
}

func TestInterfaceAdapter(t *testing.T) {
	a := NewInterfaceAdapter("wlan0")
	a.info.routePath = writeRouteTable(t)
	a.info.lookup = staticLookup(wlanAddrs(), net.FlagUp, nil)

	assert.True(t, a.IsConnected())
	assert.Equal(t, "wlan0", a.CurrentSSID())
	assert.Equal(t, "192.168.1.1", a.GatewayIP().String())

	require.NoError(t, a.Connect(context.Background(), "lab", ""))
	assert.Equal(t, "lab", a.CurrentSSID())

	_, err := a.ScanNetworks(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeWiFiScan))

	a.info.lookup = staticLookup(nil, 0, stderrors.New("gone"))
	err = a.Connect(context.Background(), "lab", "")
	assert.True(t, errors.IsCode(err, errors.CodeWiFiConnect))
	assert.Nil(t, a.LocalIP())
}

type scriptedRunner struct {
	calls  [][]string
	output map[string]string
	err    error
}

func (s *scriptedRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	s.calls = append(s.calls, call)
	for key, out := range s.output {
		if strings.Contains(strings.Join(call, " "), key) {
			return []byte(out), s.err
		}
	}
	return nil, s.err
}

func TestNmcliScanNetworks(t *testing.T) {
	runner := &scriptedRunner{output: map[string]string{
		"SSID,BSSID": `HomeNet:AA\:BB\:CC\:DD\:EE\:01:82:6:WPA2
Cafe:AA\:BB\:CC\:DD\:EE\:02:40:11:
:AA\:BB\:CC\:DD\:EE\:03:30:1:WPA2
Lab\:5G:AA\:BB\:CC\:DD\:EE\:04:100:36:WPA2 WPA3
Old:AA\:BB\:CC\:DD\:EE\:05:10:3:WEP
`,
	}}
	a := NewNmcliAdapter("wlan0")
	a.run = runner.run

	networks, err := a.ScanNetworks(context.Background())
	require.NoError(t, err)
	require.Len(t, networks, 4)

	assert.Equal(t, Network{SSID: "HomeNet", BSSID: "AA:BB:CC:DD:EE:01", RSSI: -59, Channel: 6, Encryption: EncryptionWPA2}, networks[0])
	assert.Equal(t, EncryptionOpen, networks[1].Encryption)
	assert.Equal(t, "Lab:5G", networks[2].SSID)
	assert.Equal(t, EncryptionWPA3, networks[2].Encryption)
	assert.Equal(t, -50, networks[2].RSSI)
	assert.Equal(t, EncryptionWEP, networks[3].Encryption)

	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "--rescan")
}

func TestNmcliScanFailure(t *testing.T) {
	runner := &scriptedRunner{err: stderrors.New("exit status 10")}
	a := NewNmcliAdapter("wlan0")
	a.run = runner.run

	_, err := a.ScanNetworks(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeWiFiScan))
}

func TestNmcliConnect(t *testing.T) {
	t.Run("with password", func(t *testing.T) {
		runner := &scriptedRunner{output: map[string]string{"connect": "Device 'wlan0' successfully activated"}}
		a := NewNmcliAdapter("wlan0")
		a.run = runner.run
		a.info.lookup = staticLookup(wlanAddrs(), net.FlagUp, nil)

		require.NoError(t, a.Connect(context.Background(), "HomeNet", "secret"))
		require.Len(t, runner.calls, 1)
		joined := strings.Join(runner.calls[0], " ")
		assert.Contains(t, joined, "device wifi connect HomeNet password secret ifname wlan0")
	})

	t.Run("open network", func(t *testing.T) {
		runner := &scriptedRunner{}
		a := NewNmcliAdapter("wlan0")
		a.run = runner.run
		a.info.lookup = staticLookup(wlanAddrs(), net.FlagUp, nil)

		require.NoError(t, a.Connect(context.Background(), "Cafe", ""))
		assert.NotContains(t, runner.calls[0], "password")
	})

	t.Run("nmcli failure", func(t *testing.T) {
		runner := &scriptedRunner{output: map[string]string{"connect": "Error: Secrets were required"}, err: stderrors.New("exit status 4")}
		a := NewNmcliAdapter("wlan0")
		a.run = runner.run

		err := a.Connect(context.Background(), "HomeNet", "wrong")
		assert.True(t, errors.IsCode(err, errors.CodeWiFiConnect))
		assert.Contains(t, err.Error(), "Secrets were required")
	})

	t.Run("no address after association", func(t *testing.T) {
		runner := &scriptedRunner{}
		a := NewNmcliAdapter("wlan0")
		a.run = runner.run
		a.info.lookup = staticLookup(nil, net.FlagUp, nil)

		err := a.Connect(context.Background(), "HomeNet", "secret")
		assert.True(t, errors.IsCode(err, errors.CodeWiFiConnect))
	})
}

func TestNmcliActive(t *testing.T) {
	runner := &scriptedRunner{output: map[string]string{"ACTIVE,SSID,SIGNAL": "no:Other:20\nyes:HomeNet:70\n"}}
	a := NewNmcliAdapter("wlan0")
	a.run = runner.run

	assert.Equal(t, "HomeNet", a.CurrentSSID())
	assert.Equal(t, -65, a.RSSI())
}

func TestEncryptionFromSecurity(t *testing.T) {
	tests := map[string]string{
		"":          EncryptionOpen,
		"--":        EncryptionOpen,
		"WEP":       EncryptionWEP,
		"WPA1":      EncryptionWPA,
		"WPA1 WPA2": EncryptionWPA2,
		"WPA2":      EncryptionWPA2,
		"WPA2 WPA3": EncryptionWPA3,
		"SAE":       EncryptionWPA3,
		"802.1X":    EncryptionUnknown,
	}
	for security, expected := range tests {
		assert.Equal(t, expected, EncryptionFromSecurity(security), security)
	}
}

func TestSignalToDBm(t *testing.T) {
	assert.Equal(t, -100, SignalToDBm(0))
	assert.Equal(t, -50, SignalToDBm(100))
	assert.Equal(t, -50, SignalToDBm(150))
	assert.Equal(t, -100, SignalToDBm(-5))
}
