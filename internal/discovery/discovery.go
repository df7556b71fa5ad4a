// Package discovery implements the host discovery sweep: every address of
// the attached IPv4 subnet is probed in ascending order with a link-layer
// liveness probe, and each responding host is classified by its hardware
// address prefix.
package discovery

import (
	"context"
	stderrors "errors"
	"net"
	"time"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/scanning"
)

// Station is the part of the WiFi collaborator the sweep depends on.
type Station interface {
	IsConnected() bool
	LocalIP() net.IP
	SubnetMask() net.IPMask
}

// Config holds sweep settings.
type Config struct {
	ProbeTimeout time.Duration
	Attempts     int
	MaxHosts     int
	MaxAddresses int
}

// ConfigFrom converts the discovery section of the device configuration.
func ConfigFrom(cfg config.DiscoveryConfig) Config {
	return Config{
		ProbeTimeout: cfg.ProbeTimeout,
		Attempts:     cfg.Attempts,
		MaxHosts:     cfg.MaxHosts,
		MaxAddresses: cfg.MaxAddresses,
	}
}

// Engine runs host discovery sweeps.
type Engine struct {
	config   Config
	station  Station
	resolver Resolver
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics
}

// NewEngine creates a discovery engine.
func NewEngine(cfg Config, station Station, resolver Resolver, logger *logging.Logger, m *metrics.PrometheusMetrics) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Engine{
		config:   cfg,
		station:  station,
		resolver: resolver,
		logger:   logger.WithComponent("discovery"),
		metrics:  m,
	}
}

// NewResolver creates the resolver selected by cfg.Resolver. The pcap
// resolver takes its sender address from the station on each request.
func NewResolver(cfg config.DiscoveryConfig, station Station) (Resolver, error) {
	switch cfg.Resolver {
	case "pcap":
		return NewPcapResolver(cfg.Interface, station)
	default:
		return NewKernelResolver(cfg.Interface), nil
	}
}

// Discover sweeps the attached subnet. Each live host is passed to hosts
// before the sweep continues, and progress reports end with a 100% report
// even when the sweep stops early. The returned count is the number of hosts
// recorded. On cancellation the error is nil; on loss of the network the
// partial count is returned with an ENGINE_FATAL error.
func (e *Engine) Discover(ctx context.Context, session *scanning.Session, hosts scanning.HostSink, progress scanning.ProgressSink) (int, error) {
	if !e.station.IsConnected() {
		return 0, errors.NewDiscoveryError(errors.CodeNetworkUnreachable, "not connected to a network")
	}

	subnet, err := NewSubnet(e.station.LocalIP(), e.station.SubnetMask())
	if err != nil {
		return 0, errors.WrapDiscoveryError(errors.CodeNetworkUnreachable, "no usable IPv4 address", err)
	}
	if e.config.MaxAddresses > 0 && subnet.Size() > e.config.MaxAddresses {
		return 0, errors.ErrDiscoveryFailed(subnet.String(),
			stderrors.New("subnet exceeds the configured address limit"))
	}

	log := e.logger.WithScanID(session.ID)
	addrs := subnet.Hosts()
	log.InfoDiscovery("Starting network sweep", subnet.String(), "addresses", len(addrs))

	started := time.Now()
	tracker := scanning.NewTracker(scanning.StageNetworkScan, len(addrs), progress, session)
	count, err := e.sweep(ctx, session, addrs, hosts, tracker, log)
	tracker.Finish()

	status := "completed"
	switch {
	case err != nil:
		status = "failed"
	case session.Cancelled():
		status = "cancelled"
	}
	e.metrics.IncrementScansTotal(scanning.StageNetworkScan, status)
	e.metrics.RecordScanDuration(scanning.StageNetworkScan, time.Since(started))
	e.metrics.IncrementHostsDiscovered(count)
	if err != nil {
		log.ErrorDiscovery("Network sweep failed", subnet.String(), err, "hosts", count)
	} else {
		log.InfoDiscovery("Network sweep finished", subnet.String(), "hosts", count, "status", status)
	}

	return count, err
}

func (e *Engine) sweep(ctx context.Context, session *scanning.Session, addrs []net.IP,
	hosts scanning.HostSink, tracker *scanning.Tracker, log *logging.Logger) (int, error) {
	count := 0
	for i, ip := range addrs {
		if session.Cancelled() {
			log.Info("Sweep cancelled", "scanned", i)
			return count, nil
		}
		if err := ctx.Err(); err != nil {
			return count, errors.WrapDiscoveryError(errors.CodeCanceled, "sweep interrupted", err)
		}
		if !e.station.IsConnected() {
			return count, errors.NewDiscoveryError(errors.CodeEngineFatal, "network lost during sweep")
		}

		if mac, ok := e.probe(ctx, ip); ok {
			if count < e.config.MaxHosts || e.config.MaxHosts <= 0 {
				h := scanning.Host{IP: ip.String(), MAC: FormatMAC(mac), Vendor: LookupVendor(mac)}
				log.Debug("Host found", "ip", h.IP, "mac", h.MAC, "vendor", h.Vendor)
				if hosts != nil {
					hosts.HostFound(h)
				}
				count++
			}
		}

		tracker.Step(i + 1)
	}
	return count, nil
}

// probe resolves ip, retrying up to the configured number of attempts.
// Errors that are not retryable end the attempts for this address.
func (e *Engine) probe(ctx context.Context, ip net.IP) (net.HardwareAddr, bool) {
	for attempt := 0; attempt < e.config.Attempts; attempt++ {
		mac, err := e.resolver.Resolve(ctx, ip, e.config.ProbeTimeout)
		if err == nil {
			e.metrics.IncrementDiscoveryProbes(e.resolver.Name(), "found")
			return mac, true
		}
		if ctx.Err() != nil {
			break
		}
		if !errors.IsRetryable(err) {
			e.logger.WithError(err).Debug("Probe error", "ip", ip.String(), "attempt", attempt+1)
			break
		}
	}
	e.metrics.IncrementDiscoveryProbes(e.resolver.Name(), "not_found")
	return nil, false
}
