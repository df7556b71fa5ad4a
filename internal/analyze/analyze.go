// Package analyze profiles a single host: its reverse DNS name, its SNMP
// system description, the common services it exposes and a best-effort OS.
package analyze

import (
	"context"
	"net"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/portscan"
	"github.com/anstrom/netstick/internal/scanning"
)

// Gateway exposes the default gateway of the attached network.
type Gateway interface {
	GatewayIP() net.IP
}

// Report is the outcome of one analysis.
type Report struct {
	Target    string
	Hostname  string
	SNMP      string
	OS        string
	OpenPorts []scanning.OpenPort
}

// Analyzer runs host analyses.
type Analyzer struct {
	ports    *portscan.Engine
	names    HostnameResolver
	describe SystemDescriber
	logger   *logging.Logger
}

// New creates an Analyzer from configuration. PTR queries go to the
// configured server, or to the gateway when none is set.
func New(cfg config.AnalyzeConfig, ports *portscan.Engine, gw Gateway, logger *logging.Logger) *Analyzer {
	server := func() string {
		if cfg.DNSServer != "" {
			return cfg.DNSServer
		}
		if gw == nil {
			return ""
		}
		if ip := gw.GatewayIP(); ip != nil && !ip.IsUnspecified() {
			return ip.String()
		}
		return ""
	}
	return NewWith(ports,
		NewDNSResolver(server, cfg.DNSTimeout),
		NewSNMPClient(cfg.SNMPCommunity, cfg.SNMPTimeout),
		logger)
}

// NewWith creates an Analyzer with explicit lookup collaborators.
func NewWith(ports *portscan.Engine, names HostnameResolver, describe SystemDescriber, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{
		ports:    ports,
		names:    names,
		describe: describe,
		logger:   logger.WithComponent("analyze"),
	}
}

// Analyze profiles target. Lookup failures leave the matching field empty.
// Open ports and progress stream to the sinks as the common ports are
// probed. A cancelled session skips the remaining steps.
func (a *Analyzer) Analyze(ctx context.Context, session *scanning.Session, target string,
	ports scanning.PortSink, progress scanning.ProgressSink) (*Report, error) {
	if net.ParseIP(target) == nil {
		return nil, errors.ErrInvalidTarget(target)
	}
	log := a.logger.WithScanID(session.ID).WithTarget(target)
	report := &Report{Target: target, OS: portscan.OSUnknown}

	if name, err := a.names.LookupPTR(ctx, target); err != nil {
		log.Debug("Reverse lookup failed", "error", err)
	} else {
		report.Hostname = name
	}

	if !session.Cancelled() {
		if descr, err := a.describe.SysDescr(ctx, target); err != nil {
			log.Debug("SNMP query failed", "error", err)
		} else {
			report.SNMP = descr
		}
	}

	if session.Cancelled() {
		return report, nil
	}

	result, err := a.ports.Scan(ctx, session, portscan.Request{
		Target:  target,
		Ports:   portscan.CommonPorts,
		Options: portscan.Options{ServiceVersion: true, OSDetect: true},
		Stage:   scanning.StageAnalyze,
	}, ports, progress)
	if result != nil {
		report.OpenPorts = result.Open
		report.OS = result.OS
	}

	log.Info("Analysis finished", "hostname", report.Hostname, "os", report.OS,
		"open_ports", len(report.OpenPorts))
	return report, err
}
