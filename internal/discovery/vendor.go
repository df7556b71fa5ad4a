package discovery

import (
	"bytes"
	"fmt"
	"net"
	"strings"
)

// UnknownVendor is reported when no prefix matches.
const UnknownVendor = "Unknown"

type ouiEntry struct {
	prefix [3]byte
	vendor string
}

// ouiTable is searched in order; the first matching prefix wins.
var ouiTable = []ouiEntry{
	{[3]byte{0xB4, 0xE6, 0x2D}, "Espressif"},
	{[3]byte{0x24, 0x0A, 0xC4}, "Espressif"},
	{[3]byte{0x00, 0x17, 0xF2}, "Apple"},
	{[3]byte{0xAC, 0xBC, 0x32}, "Apple"},
	{[3]byte{0x00, 0x00, 0x0C}, "Cisco"},
	{[3]byte{0x00, 0x0C, 0x43}, "TP-Link"},
}

// LookupVendor classifies mac by its first three octets.
func LookupVendor(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return UnknownVendor
	}
	for _, e := range ouiTable {
		if bytes.Equal(mac[:3], e.prefix[:]) {
			return e.vendor
		}
	}
	return UnknownVendor
}

// FormatMAC renders mac as colon separated upper-case hex.
func FormatMAC(mac net.HardwareAddr) string {
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
