package wifi

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/anstrom/netstick/internal/errors"
)

const defaultRoutePath = "/proc/net/route"

// netInfo reads the IPv4 addressing of one interface.
type netInfo struct {
	name      string
	routePath string
	lookup    func(name string) ([]net.Addr, net.Flags, error)
}

func newNetInfo(name string) netInfo {
	return netInfo{
		name:      name,
		routePath: defaultRoutePath,
		lookup:    lookupInterface,
	}
}

func lookupInterface(name string) ([]net.Addr, net.Flags, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, 0, err
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, 0, err
	}
	return addrs, iface.Flags, nil
}

// ipv4 returns the first IPv4 address of the interface and its mask.
func (n netInfo) ipv4() (net.IP, net.IPMask, bool) {
	addrs, flags, err := n.lookup(n.name)
	if err != nil || flags&net.FlagUp == 0 {
		return nil, nil, false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			mask := ipNet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			return ip4, mask, true
		}
	}
	return nil, nil, false
}

// gateway returns the default route gateway of the interface from the
// kernel routing table.
func (n netInfo) gateway() net.IP {
	f, err := os.Open(n.routePath)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != n.name || fields[1] != "00000000" {
			continue
		}
		if ip := parseRouteHex(fields[2]); ip != nil && !ip.IsUnspecified() {
			return ip
		}
	}
	return nil
}

// parseRouteHex decodes a little-endian hex IPv4 address as found in
// /proc/net/route.
func parseRouteHex(s string) net.IP {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 4 {
		return nil
	}
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, binary.LittleEndian.Uint32(raw))
	return ip
}

// InterfaceAdapter treats an already configured interface as the station.
// It cannot scan for access points and Connect only succeeds when the
// interface already has an address.
type InterfaceAdapter struct {
	info netInfo

	mu   sync.RWMutex
	ssid string
}

// NewInterfaceAdapter creates an adapter over the named interface.
func NewInterfaceAdapter(name string) *InterfaceAdapter {
	return &InterfaceAdapter{info: newNetInfo(name)}
}

func (a *InterfaceAdapter) Connect(_ context.Context, ssid, _ string) error {
	if !a.IsConnected() {
		return errors.NewScanError(errors.CodeWiFiConnect, "interface "+a.info.name+" has no address")
	}
	a.mu.Lock()
	a.ssid = ssid
	a.mu.Unlock()
	return nil
}

func (a *InterfaceAdapter) IsConnected() bool {
	_, _, ok := a.info.ipv4()
	return ok
}

func (a *InterfaceAdapter) LocalIP() net.IP {
	ip, _, _ := a.info.ipv4()
	return ip
}

func (a *InterfaceAdapter) SubnetMask() net.IPMask {
	_, mask, _ := a.info.ipv4()
	return mask
}

func (a *InterfaceAdapter) GatewayIP() net.IP {
	return a.info.gateway()
}

func (a *InterfaceAdapter) CurrentSSID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ssid != "" {
		return a.ssid
	}
	if a.IsConnected() {
		return a.info.name
	}
	return ""
}

func (a *InterfaceAdapter) RSSI() int { return 0 }

func (a *InterfaceAdapter) ScanNetworks(_ context.Context) ([]Network, error) {
	return nil, errors.NewScanError(errors.CodeWiFiScan, "interface driver cannot scan")
}

// containsWord reports whether word appears in s as a space separated token.
func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.EqualFold(f, word) {
			return true
		}
	}
	return false
}
