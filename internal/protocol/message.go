package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response type discriminators.
const (
	TypeAck              = "ack"
	TypeWiFiResults      = "wifi_results"
	TypeWiFiConnected    = "wifi_connected"
	TypeDevice           = "device"
	TypeNetDone          = "net_done"
	TypePortResult       = "port_result"
	TypePortRaw          = "port_raw"
	TypePortDone         = "port_done"
	TypePortSummary      = "port_summary"
	TypeProgress         = "progress"
	TypeCancelled        = "cancelled"
	TypeError            = "error"
	TypeStatus           = "status"
	TypeAnalysisComplete = "analysis_complete"
)

// Message is an outbound response. The set is closed: only types in this
// package implement it, and each one knows how to clamp its own
// user-supplied strings.
type Message interface {
	MessageType() string
	sanitize(s Sanitizer) Message
}

// Ack confirms a command was accepted.
type Ack struct {
	Type string `json:"type"`
	Cmd  string `json:"cmd"`
}

// NewAck builds an ack for the named command.
func NewAck(cmd string) Ack { return Ack{Type: TypeAck, Cmd: cmd} }

func (m Ack) MessageType() string          { return m.Type }
func (m Ack) sanitize(_ Sanitizer) Message { return m }

// Network is one access point in wifi_results.
type Network struct {
	SSID       string `json:"ssid"`
	BSSID      string `json:"bssid"`
	RSSI       int    `json:"rssi"`
	Channel    int    `json:"channel"`
	Encryption string `json:"encryption"`
}

// WiFiResults carries a complete access point scan.
type WiFiResults struct {
	Type     string    `json:"type"`
	Networks []Network `json:"networks"`
}

// NewWiFiResults builds a wifi_results message. A nil slice encodes as [].
func NewWiFiResults(networks []Network) WiFiResults {
	if networks == nil {
		networks = []Network{}
	}
	return WiFiResults{Type: TypeWiFiResults, Networks: networks}
}

func (m WiFiResults) MessageType() string { return m.Type }
func (m WiFiResults) sanitize(s Sanitizer) Message {
	out := make([]Network, len(m.Networks))
	for i, n := range m.Networks {
		n.SSID = s.SSID(n.SSID)
		out[i] = n
	}
	m.Networks = out
	return m
}

// WiFiConnected reports a successful association.
type WiFiConnected struct {
	Type    string `json:"type"`
	IP      string `json:"ip"`
	Gateway string `json:"gateway"`
}

// NewWiFiConnected builds a wifi_connected message.
func NewWiFiConnected(ip, gateway string) WiFiConnected {
	return WiFiConnected{Type: TypeWiFiConnected, IP: ip, Gateway: gateway}
}

func (m WiFiConnected) MessageType() string          { return m.Type }
func (m WiFiConnected) sanitize(_ Sanitizer) Message { return m }

// Device reports one live host.
type Device struct {
	Type   string `json:"type"`
	IP     string `json:"ip"`
	MAC    string `json:"mac"`
	Vendor string `json:"vendor"`
}

// NewDevice builds a device message.
func NewDevice(ip, mac, vendor string) Device {
	return Device{Type: TypeDevice, IP: ip, MAC: mac, Vendor: vendor}
}

func (m Device) MessageType() string { return m.Type }
func (m Device) sanitize(s Sanitizer) Message {
	m.Vendor = s.Vendor(m.Vendor)
	return m
}

// NetDone closes a network scan.
type NetDone struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewNetDone builds a net_done message.
func NewNetDone(count int) NetDone { return NetDone{Type: TypeNetDone, Count: count} }

func (m NetDone) MessageType() string          { return m.Type }
func (m NetDone) sanitize(_ Sanitizer) Message { return m }

// PortResult is the legacy per-port streaming form. Its fields are frozen.
type PortResult struct {
	Type    string `json:"type"`
	Port    int    `json:"port"`
	Service string `json:"service"`
	Banner  string `json:"banner,omitempty"`
}

// NewPortResult builds a port_result message.
func NewPortResult(port int, service, banner string) PortResult {
	return PortResult{Type: TypePortResult, Port: port, Service: service, Banner: banner}
}

func (m PortResult) MessageType() string { return m.Type }
func (m PortResult) sanitize(s Sanitizer) Message {
	m.Service = s.Service(m.Service)
	m.Banner = s.Banner(m.Banner)
	return m
}

// PortRaw is the preferred per-port streaming form.
type PortRaw struct {
	Type     string  `json:"type"`
	IP       string  `json:"ip"`
	Port     int     `json:"port"`
	Protocol string  `json:"protocol"`
	Service  string  `json:"service"`
	Banner   string  `json:"banner,omitempty"`
	Version  *string `json:"version,omitempty"`
}

// NewPortRaw builds a port_raw message. Version is present whenever a
// banner or a version was captured.
func NewPortRaw(ip string, port int, service, banner, version string) PortRaw {
	m := PortRaw{
		Type:     TypePortRaw,
		IP:       ip,
		Port:     port,
		Protocol: "tcp",
		Service:  service,
		Banner:   banner,
	}
	if banner != "" || version != "" {
		v := version
		m.Version = &v
	}
	return m
}

func (m PortRaw) MessageType() string { return m.Type }
func (m PortRaw) sanitize(s Sanitizer) Message {
	m.Service = s.Service(m.Service)
	m.Banner = s.Banner(m.Banner)
	if m.Version != nil {
		v := s.Version(*m.Version)
		m.Version = &v
	}
	return m
}

// PortDone closes a port scan.
type PortDone struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewPortDone builds a port_done message.
func NewPortDone(count int) PortDone { return PortDone{Type: TypePortDone, Count: count} }

func (m PortDone) MessageType() string          { return m.Type }
func (m PortDone) sanitize(_ Sanitizer) Message { return m }

// OpenPort is one entry of port_summary.
type OpenPort struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Service  string `json:"service"`
	Banner   string `json:"banner,omitempty"`
	Version  string `json:"version"`
}

// PortSummary lists every retained open port of an advanced scan.
type PortSummary struct {
	Type      string     `json:"type"`
	Target    string     `json:"target"`
	Start     int        `json:"start"`
	End       int        `json:"end"`
	OS        string     `json:"os"`
	OpenPorts []OpenPort `json:"open_ports"`
}

// NewPortSummary builds a port_summary message. An empty OS encodes as "unknown".
func NewPortSummary(target string, start, end int, os string, ports []OpenPort) PortSummary {
	if os == "" {
		os = "unknown"
	}
	if ports == nil {
		ports = []OpenPort{}
	}
	return PortSummary{
		Type:      TypePortSummary,
		Target:    target,
		Start:     start,
		End:       end,
		OS:        os,
		OpenPorts: ports,
	}
}

func (m PortSummary) MessageType() string { return m.Type }
func (m PortSummary) sanitize(s Sanitizer) Message {
	m.OS = s.Version(m.OS)
	out := make([]OpenPort, len(m.OpenPorts))
	for i, p := range m.OpenPorts {
		p.Service = s.Service(p.Service)
		p.Banner = s.Banner(p.Banner)
		p.Version = s.Version(p.Version)
		out[i] = p
	}
	m.OpenPorts = out
	return m
}

// Progress reports scan advancement.
type Progress struct {
	Type      string `json:"type"`
	Stage     string `json:"stage"`
	Operation string `json:"operation"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}

// NewProgress builds a progress message; percent is current*100/total.
func NewProgress(stage string, current, total int) Progress {
	percent := 0
	if total > 0 {
		percent = current * 100 / total
	}
	return Progress{
		Type:      TypeProgress,
		Stage:     stage,
		Operation: stage,
		Current:   current,
		Total:     total,
		Percent:   percent,
	}
}

func (m Progress) MessageType() string          { return m.Type }
func (m Progress) sanitize(_ Sanitizer) Message { return m }

// Cancelled confirms a cancel request.
type Cancelled struct {
	Type string `json:"type"`
}

// NewCancelled builds a cancelled message.
func NewCancelled() Cancelled { return Cancelled{Type: TypeCancelled} }

func (m Cancelled) MessageType() string          { return m.Type }
func (m Cancelled) sanitize(_ Sanitizer) Message { return m }

// Error reports a rejected command or failed operation.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error message.
func NewError(message string) Error {
	if message == "" {
		message = "Unknown error"
	}
	return Error{Type: TypeError, Message: message}
}

func (m Error) MessageType() string { return m.Type }
func (m Error) sanitize(s Sanitizer) Message {
	m.Message = s.Error(m.Message)
	return m
}

// StatusReport is a device status snapshot.
type StatusReport struct {
	Type          string `json:"type"`
	Battery       int    `json:"battery"`
	Charging      bool   `json:"charging"`
	BTConnected   bool   `json:"bt_connected"`
	WiFiConnected bool   `json:"wifi_connected"`
	SSID          string `json:"ssid"`
	RSSI          int    `json:"rssi"`
	Operation     string `json:"operation"`
	Progress      int    `json:"progress"`
}

// NewStatusReport stamps the status type on r. Empty operation and SSID
// become "idle" and "unknown".
func NewStatusReport(r StatusReport) StatusReport {
	r.Type = TypeStatus
	if r.Operation == "" {
		r.Operation = "idle"
	}
	if r.SSID == "" {
		r.SSID = "unknown"
	}
	return r
}

func (m StatusReport) MessageType() string { return m.Type }
func (m StatusReport) sanitize(s Sanitizer) Message {
	m.SSID = s.SSID(m.SSID)
	return m
}

// AnalysisComplete closes an analyze command.
type AnalysisComplete struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	SNMP      string `json:"snmp"`
	OpenPorts int    `json:"open_ports"`
}

// NewAnalysisComplete builds an analysis_complete message.
func NewAnalysisComplete(target, hostname, os, snmp string, openPorts int) AnalysisComplete {
	if os == "" {
		os = "unknown"
	}
	return AnalysisComplete{
		Type:      TypeAnalysisComplete,
		Target:    target,
		Hostname:  hostname,
		OS:        os,
		SNMP:      snmp,
		OpenPorts: openPorts,
	}
}

func (m AnalysisComplete) MessageType() string { return m.Type }
func (m AnalysisComplete) sanitize(s Sanitizer) Message {
	m.Hostname = s.Version(m.Hostname)
	m.OS = s.Version(m.OS)
	m.SNMP = s.Banner(m.SNMP)
	return m
}

// Encoder serializes messages after clamping their user-supplied fields.
type Encoder struct {
	sanitizer Sanitizer
}

// NewEncoder creates an encoder using the given sanitizer.
func NewEncoder(s Sanitizer) *Encoder {
	return &Encoder{sanitizer: s}
}

// Encode returns the compact UTF-8 JSON text of m with no trailing newline.
func (e *Encoder) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m.sanitize(e.sanitizer)); err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.MessageType(), err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
