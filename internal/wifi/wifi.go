// Package wifi provides the WiFi collaborator: association with an access
// point, the current addressing of the station, and access point scans.
package wifi

//go:generate mockgen -destination=mocks/mock_adapter.go -package=mocks github.com/anstrom/netstick/internal/wifi Adapter

import (
	"context"
	"fmt"
	"net"

	"github.com/anstrom/netstick/internal/config"
)

// Encryption names reported in scan results.
const (
	EncryptionOpen    = "OPEN"
	EncryptionWEP     = "WEP"
	EncryptionWPA     = "WPA"
	EncryptionWPA2    = "WPA2"
	EncryptionWPA3    = "WPA3"
	EncryptionUnknown = "UNKNOWN"
)

// Network is one access point seen by a scan.
type Network struct {
	SSID       string
	BSSID      string
	RSSI       int
	Channel    int
	Encryption string
}

// Adapter is the WiFi station the device scans from.
type Adapter interface {
	// Connect associates with ssid and waits for an address, bounded by ctx.
	Connect(ctx context.Context, ssid, password string) error
	IsConnected() bool
	LocalIP() net.IP
	GatewayIP() net.IP
	SubnetMask() net.IPMask
	CurrentSSID() string
	// RSSI is the signal strength of the current association in dBm.
	RSSI() int
	ScanNetworks(ctx context.Context) ([]Network, error)
}

// New creates the adapter selected by cfg.Driver.
func New(cfg config.WiFiConfig) (Adapter, error) {
	switch cfg.Driver {
	case "nmcli":
		return NewNmcliAdapter(cfg.Interface), nil
	case "interface":
		return NewInterfaceAdapter(cfg.Interface), nil
	default:
		return nil, fmt.Errorf("unknown wifi driver: %s", cfg.Driver)
	}
}

// SignalToDBm converts a 0-100 signal quality to an approximate dBm value.
func SignalToDBm(quality int) int {
	quality = max(0, min(quality, 100))
	return quality/2 - 100
}

// EncryptionFromSecurity maps a security description such as "WPA2 WPA3"
// or "WPA1" to the strongest matching encryption name.
func EncryptionFromSecurity(security string) string {
	switch {
	case security == "" || security == "--":
		return EncryptionOpen
	case containsWord(security, "WPA3"), containsWord(security, "SAE"):
		return EncryptionWPA3
	case containsWord(security, "WPA2"), containsWord(security, "RSN"):
		return EncryptionWPA2
	case containsWord(security, "WPA1"), containsWord(security, "WPA"):
		return EncryptionWPA
	case containsWord(security, "WEP"):
		return EncryptionWEP
	default:
		return EncryptionUnknown
	}
}
