package wifi

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/netstick/internal/errors"
)

const (
	nmcliBinary  = "nmcli"
	queryTimeout = 5 * time.Second
)

// commandRunner executes an external command and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- the binary is fixed and arguments are passed without a shell
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// NmcliAdapter drives a NetworkManager managed interface through nmcli.
type NmcliAdapter struct {
	iface string
	info  netInfo
	run   commandRunner
}

// NewNmcliAdapter creates an adapter for the named interface.
func NewNmcliAdapter(iface string) *NmcliAdapter {
	return &NmcliAdapter{
		iface: iface,
		info:  newNetInfo(iface),
		run:   execRunner,
	}
}

// Connect associates with ssid. An empty password joins an open network.
func (a *NmcliAdapter) Connect(ctx context.Context, ssid, password string) error {
	args := []string{"--wait", strconv.Itoa(waitSeconds(ctx)), "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}
	args = append(args, "ifname", a.iface)

	out, err := a.run(ctx, nmcliBinary, args...)
	if err != nil {
		return errors.WrapScanError(errors.CodeWiFiConnect,
			fmt.Sprintf("nmcli connect failed: %s", strings.TrimSpace(string(out))), err)
	}
	if !a.IsConnected() {
		return errors.NewScanError(errors.CodeWiFiConnect, "associated but no IPv4 address on "+a.iface)
	}
	return nil
}

func waitSeconds(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 15
	}
	return max(1, int(time.Until(deadline).Seconds()))
}

func (a *NmcliAdapter) IsConnected() bool {
	_, _, ok := a.info.ipv4()
	return ok
}

func (a *NmcliAdapter) LocalIP() net.IP {
	ip, _, _ := a.info.ipv4()
	return ip
}

func (a *NmcliAdapter) SubnetMask() net.IPMask {
	_, mask, _ := a.info.ipv4()
	return mask
}

func (a *NmcliAdapter) GatewayIP() net.IP {
	return a.info.gateway()
}

func (a *NmcliAdapter) CurrentSSID() string {
	ssid, _ := a.active()
	return ssid
}

func (a *NmcliAdapter) RSSI() int {
	_, rssi := a.active()
	return rssi
}

// active returns the SSID and signal of the in-use access point.
func (a *NmcliAdapter) active() (string, int) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	out, err := a.run(ctx, nmcliBinary, "-t", "-f", "ACTIVE,SSID,SIGNAL",
		"device", "wifi", "list", "ifname", a.iface, "--rescan", "no")
	if err != nil {
		return "", 0
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := splitTerse(line)
		if len(fields) < 3 || fields[0] != "yes" {
			continue
		}
		signal, _ := strconv.Atoi(fields[2])
		return fields[1], SignalToDBm(signal)
	}
	return "", 0
}

// ScanNetworks triggers a rescan and returns every visible access point.
// Hidden networks are skipped.
func (a *NmcliAdapter) ScanNetworks(ctx context.Context) ([]Network, error) {
	out, err := a.run(ctx, nmcliBinary, "-t", "-f", "SSID,BSSID,SIGNAL,CHAN,SECURITY",
		"device", "wifi", "list", "ifname", a.iface, "--rescan", "yes")
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeWiFiScan, "nmcli scan failed", err)
	}
	return parseScan(string(out)), nil
}

func parseScan(out string) []Network {
	networks := make([]Network, 0)
	for _, line := range strings.Split(out, "\n") {
		fields := splitTerse(line)
		if len(fields) < 5 || fields[0] == "" {
			continue
		}
		signal, _ := strconv.Atoi(fields[2])
		channel, _ := strconv.Atoi(fields[3])
		networks = append(networks, Network{
			SSID:       fields[0],
			BSSID:      fields[1],
			RSSI:       SignalToDBm(signal),
			Channel:    channel,
			Encryption: EncryptionFromSecurity(fields[4]),
		})
	}
	return networks
}

// splitTerse splits one line of nmcli terse output. Colons inside values are
// escaped as "\:" and backslashes as "\\".
func splitTerse(line string) []string {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return nil
	}

	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}
