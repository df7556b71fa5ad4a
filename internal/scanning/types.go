package scanning

import (
	"fmt"
)

// Progress stages. The stage doubles as the operation name reported in
// status snapshots.
const (
	StageNetworkScan = "network_scan"
	StagePortScan    = "port_scan"
	StageAnalyze     = "analyze"
)

// Host is one live address found by host discovery.
type Host struct {
	IP     string
	MAC    string
	Vendor string
}

// OpenPort is one port that accepted a connection.
type OpenPort struct {
	IP      string
	Port    int
	Service string
	Banner  string
	Version string
}

// Progress is a scan advancement report. Percent is Current*100/Total,
// except for the terminal report which is always 100.
type Progress struct {
	Stage   string
	Current int
	Total   int
	Percent int
}

// HostSink receives each discovered host before the sweep continues.
type HostSink interface {
	HostFound(h Host)
}

// PortSink receives each open port before the probe continues.
type PortSink interface {
	PortOpen(p OpenPort)
}

// ProgressSink receives progress reports.
type ProgressSink interface {
	Progress(p Progress)
}

// PortRange is an inclusive TCP port range.
type PortRange struct {
	Start int
	End   int
}

// Validate checks the range lies within 1..65535 with Start <= End.
func (r PortRange) Validate() error {
	if r.Start < 1 || r.End > 65535 || r.Start > r.End {
		return fmt.Errorf("invalid port range %d-%d", r.Start, r.End)
	}
	return nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Ports expands the range in ascending order.
func (r PortRange) Ports() []int {
	ports := make([]int, 0, r.Len())
	for p := r.Start; p <= r.End; p++ {
		ports = append(ports, p)
	}
	return ports
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}
