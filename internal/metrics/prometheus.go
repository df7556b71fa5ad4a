// Package metrics provides Prometheus-based metrics collection for netstick.
// Collectors live on a private registry exposed through GetRegistry so the
// HTTP server can serve them without touching the global default registry.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all netstick metrics
	namespace = "netstick"

	// Subsystems
	subsystemChannel   = "channel"
	subsystemTransport = "transport"
	subsystemScan      = "scan"
	subsystemDiscovery = "discovery"
	subsystemSystem    = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors.
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	// Command channel metrics
	commandsTotal   *prometheus.CounterVec
	messagesSent    *prometheus.CounterVec
	fragmentsSent   prometheus.Counter
	sendsRefused    *prometheus.CounterVec
	bufferOverflows prometheus.Counter
	protocolErrors  *prometheus.CounterVec

	// Transport metrics
	peersConnected prometheus.Gauge
	connections    *prometheus.CounterVec

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	portsScanned *prometheus.CounterVec
	osProbes     prometheus.Counter
	activeScans  prometheus.Gauge

	// Discovery metrics
	discoveryProbes *prometheus.CounterVec
	hostsDiscovered prometheus.Counter

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initChannelMetrics()
	pm.initTransportMetrics()
	pm.initScanMetrics()
	pm.initDiscoveryMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initChannelMetrics initializes command channel metrics
func (pm *PrometheusMetrics) initChannelMetrics() {
	pm.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "commands_total",
			Help:      "Commands decoded from the peer by command name and result",
		},
		[]string{"cmd", "result"},
	)

	pm.messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "messages_sent_total",
			Help:      "Outbound messages by type",
		},
		[]string{"type"},
	)

	pm.fragmentsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "fragments_sent_total",
			Help:      "Transport notifications emitted for outbound messages",
		},
	)

	pm.sendsRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "sends_refused_total",
			Help:      "Outbound messages dropped before reaching the transport",
		},
		[]string{"reason"},
	)

	pm.bufferOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "buffer_overflows_total",
			Help:      "Times the inbound assembly buffer was discarded for exceeding its capacity",
		},
	)

	pm.protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemChannel,
			Name:      "errors_total",
			Help:      "Error responses sent to the peer by error code",
		},
		[]string{"code"},
	)
}

// initTransportMetrics initializes transport metrics
func (pm *PrometheusMetrics) initTransportMetrics() {
	pm.peersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "peer_connected",
			Help:      "1 while a peer is connected",
		},
	)

	pm.connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemTransport,
			Name:      "connections_total",
			Help:      "Connection attempts by result",
		},
		[]string{"result"},
	)
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans performed by type and status",
		},
		[]string{"scan_type", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan operations in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"scan_type"},
	)

	pm.portsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Total number of ports probed by outcome",
		},
		[]string{"port_status"},
	)

	pm.osProbes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "os_probes_total",
			Help:      "OS fingerprint probe sequences executed",
		},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently active scans",
		},
	)
}

// initDiscoveryMetrics initializes discovery-related metrics
func (pm *PrometheusMetrics) initDiscoveryMetrics() {
	pm.discoveryProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "probes_total",
			Help:      "Liveness probes by resolver and result",
		},
		[]string{"resolver", "result"},
	)

	pm.hostsDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "hosts_total",
			Help:      "Total number of hosts recorded",
		},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.commandsTotal,
		pm.messagesSent,
		pm.fragmentsSent,
		pm.sendsRefused,
		pm.bufferOverflows,
		pm.protocolErrors,
		pm.peersConnected,
		pm.connections,
		pm.scansTotal,
		pm.scanDuration,
		pm.portsScanned,
		pm.osProbes,
		pm.activeScans,
		pm.discoveryProbes,
		pm.hostsDiscovered,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Channel Metrics Methods

// IncrementCommands counts a decoded command.
func (pm *PrometheusMetrics) IncrementCommands(cmd, result string) {
	if pm == nil {
		return
	}
	pm.commandsTotal.WithLabelValues(cmd, result).Inc()
}

// IncrementMessagesSent counts one outbound message and its fragments.
func (pm *PrometheusMetrics) IncrementMessagesSent(msgType string, fragments int) {
	if pm == nil {
		return
	}
	pm.messagesSent.WithLabelValues(msgType).Inc()
	pm.fragmentsSent.Add(float64(fragments))
}

// IncrementSendsRefused counts a message dropped before the transport.
func (pm *PrometheusMetrics) IncrementSendsRefused(reason string) {
	if pm == nil {
		return
	}
	pm.sendsRefused.WithLabelValues(reason).Inc()
}

// IncrementBufferOverflows counts a discarded assembly buffer.
func (pm *PrometheusMetrics) IncrementBufferOverflows() {
	if pm == nil {
		return
	}
	pm.bufferOverflows.Inc()
}

// IncrementProtocolErrors counts an error response by code.
func (pm *PrometheusMetrics) IncrementProtocolErrors(code string) {
	if pm == nil {
		return
	}
	pm.protocolErrors.WithLabelValues(code).Inc()
}

// Transport Metrics Methods

// SetPeerConnected records whether a peer is attached.
func (pm *PrometheusMetrics) SetPeerConnected(connected bool) {
	if pm == nil {
		return
	}
	if connected {
		pm.peersConnected.Set(1)
		return
	}
	pm.peersConnected.Set(0)
}

// IncrementConnections counts a connection attempt.
func (pm *PrometheusMetrics) IncrementConnections(result string) {
	if pm == nil {
		return
	}
	pm.connections.WithLabelValues(result).Inc()
}

// Scan Metrics Methods

// IncrementScansTotal increments the total scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(scanType, status string) {
	if pm == nil {
		return
	}
	pm.scansTotal.WithLabelValues(scanType, status).Inc()
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(scanType string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// IncrementPortsScanned increments ports scanned counter
func (pm *PrometheusMetrics) IncrementPortsScanned(status string, count int) {
	if pm == nil {
		return
	}
	pm.portsScanned.WithLabelValues(status).Add(float64(count))
}

// IncrementOSProbes counts an OS fingerprint probe sequence.
func (pm *PrometheusMetrics) IncrementOSProbes() {
	if pm == nil {
		return
	}
	pm.osProbes.Inc()
}

// SetActiveScans sets the number of active scans
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	if pm == nil {
		return
	}
	pm.activeScans.Set(float64(count))
}

// Discovery Metrics Methods

// IncrementDiscoveryProbes counts a liveness probe.
func (pm *PrometheusMetrics) IncrementDiscoveryProbes(resolver, result string) {
	if pm == nil {
		return
	}
	pm.discoveryProbes.WithLabelValues(resolver, result).Inc()
}

// IncrementHostsDiscovered increments hosts discovered counter
func (pm *PrometheusMetrics) IncrementHostsDiscovered(count int) {
	if pm == nil {
		return
	}
	pm.hostsDiscovered.Add(float64(count))
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
