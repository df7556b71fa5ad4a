package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netstick/internal/config"
)

func newTestEncoder() *Encoder {
	return NewEncoder(NewSanitizer(config.Default().Protocol.Limits))
}

func TestEncodeCatalog(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{"ack", NewAck("port_scan"), `{"type":"ack","cmd":"port_scan"}`},
		{"cancelled", NewCancelled(), `{"type":"cancelled"}`},
		{"net done", NewNetDone(3), `{"type":"net_done","count":3}`},
		{"port done", NewPortDone(1), `{"type":"port_done","count":1}`},
		{"error", NewError("Invalid JSON"), `{"type":"error","message":"Invalid JSON"}`},
		{"empty error", NewError(""), `{"type":"error","message":"Unknown error"}`},
		{
			"device",
			NewDevice("192.168.1.7", "B4:E6:2D:01:02:03", "Espressif"),
			`{"type":"device","ip":"192.168.1.7","mac":"B4:E6:2D:01:02:03","vendor":"Espressif"}`,
		},
		{
			"wifi connected",
			NewWiFiConnected("192.168.1.50", "192.168.1.1"),
			`{"type":"wifi_connected","ip":"192.168.1.50","gateway":"192.168.1.1"}`,
		},
		{
			"port result without banner",
			NewPortResult(22, "SSH", ""),
			`{"type":"port_result","port":22,"service":"SSH"}`,
		},
		{
			"port raw without banner omits version",
			NewPortRaw("10.0.0.1", 443, "HTTPS", "", ""),
			`{"type":"port_raw","ip":"10.0.0.1","port":443,"protocol":"tcp","service":"HTTPS"}`,
		},
		{
			"port raw with banner keeps empty version",
			NewPortRaw("10.0.0.1", 21, "FTP", "220 ready", ""),
			`{"type":"port_raw","ip":"10.0.0.1","port":21,"protocol":"tcp","service":"FTP","banner":"220 ready","version":""}`,
		},
		{
			"port raw version only",
			NewPortRaw("10.0.0.1", 443, "HTTPS", "", "TLS 1.3"),
			`{"type":"port_raw","ip":"10.0.0.1","port":443,"protocol":"tcp","service":"HTTPS","version":"TLS 1.3"}`,
		},
		{
			"progress",
			NewProgress("port_scan", 3, 6),
			`{"type":"progress","stage":"port_scan","operation":"port_scan","current":3,"total":6,"percent":50}`,
		},
		{
			"progress zero total",
			NewProgress("network_scan", 0, 0),
			`{"type":"progress","stage":"network_scan","operation":"network_scan","current":0,"total":0,"percent":0}`,
		},
		{
			"empty wifi results",
			NewWiFiResults(nil),
			`{"type":"wifi_results","networks":[]}`,
		},
		{
			"port summary",
			NewPortSummary("10.0.0.2", 20, 25, "", []OpenPort{{Port: 22, Protocol: "tcp", Service: "SSH", Version: "OpenSSH_9.6"}}),
			`{"type":"port_summary","target":"10.0.0.2","start":20,"end":25,"os":"unknown","open_ports":[{"port":22,"protocol":"tcp","service":"SSH","version":"OpenSSH_9.6"}]}`,
		},
		{
			"status defaults",
			NewStatusReport(StatusReport{Battery: 100, BTConnected: true}),
			`{"type":"status","battery":100,"charging":false,"bt_connected":true,"wifi_connected":false,"ssid":"unknown","rssi":0,"operation":"idle","progress":0}`,
		},
		{
			"analysis complete",
			NewAnalysisComplete("10.0.0.3", "nas.lan.", "Linux", "", 2),
			`{"type":"analysis_complete","target":"10.0.0.3","hostname":"nas.lan.","os":"Linux","snmp":"","open_ports":2}`,
		},
	}

	enc := newTestEncoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := enc.Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
		})
	}
}

func TestEncodeEscapesAndClamps(t *testing.T) {
	enc := newTestEncoder()

	t.Run("quotes and backslashes are escaped", func(t *testing.T) {
		data, err := enc.Encode(NewError(`bad "quote" \ here`))
		require.NoError(t, err)
		assert.Equal(t, `{"type":"error","message":"bad \"quote\" \\ here"}`, string(data))
	})

	t.Run("control characters dropped except whitespace", func(t *testing.T) {
		data, err := enc.Encode(NewPortResult(21, "FTP", "220\x00\x07 ok\r\n\tx"))
		require.NoError(t, err)
		assert.Equal(t, `{"type":"port_result","port":21,"service":"FTP","banner":"220 ok\r\n\tx"}`, string(data))
	})

	t.Run("html characters are not escaped", func(t *testing.T) {
		data, err := enc.Encode(NewDevice("1.1.1.1", "AA:BB:CC:DD:EE:FF", "A&B <Corp>"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"vendor":"A&B <Corp>"`)
	})

	t.Run("vendor truncated to cap", func(t *testing.T) {
		data, err := enc.Encode(NewDevice("1.1.1.1", "AA:BB:CC:DD:EE:FF", strings.Repeat("v", 200)))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"vendor":"`+strings.Repeat("v", 63)+`"`)
	})

	t.Run("ssid truncated per network", func(t *testing.T) {
		msg := NewWiFiResults([]Network{{SSID: strings.Repeat("s", 40), BSSID: "00:11:22:33:44:55", Encryption: "WPA2"}})
		data, err := enc.Encode(msg)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"ssid":"`+strings.Repeat("s", 31)+`"`)
		// the caller's slice is untouched
		assert.Len(t, msg.Networks[0].SSID, 40)
	})
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{"passthrough", "hello", 10, "hello"},
		{"truncate", "hello world", 5, "hello"},
		{"no limit", "hello world", 0, "hello world"},
		{"drops nul and bell", "a\x00b\x07c", 10, "abc"},
		{"drops del", "a\x7fb", 10, "ab"},
		{"keeps crlf tab", "a\r\n\tb", 10, "a\r\n\tb"},
		{"rune boundary", "héllo", 2, "h"},
		{"invalid utf8 dropped", "a\xffb", 10, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Clean(tt.input, tt.max))
		})
	}
}
