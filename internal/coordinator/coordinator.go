// Package coordinator turns decoded peer commands into engine runs and
// engine events into outbound messages.
//
// Control commands (cancel, status) are answered on the caller's goroutine
// as soon as they are decoded. Every other command is acknowledged, queued
// and run to completion on a single worker, so at most one engine runs at a
// time. A full queue answers "Busy".
package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/anstrom/netstick/internal/analyze"
	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/display"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/portscan"
	"github.com/anstrom/netstick/internal/protocol"
	"github.com/anstrom/netstick/internal/scanning"
	"github.com/anstrom/netstick/internal/scheduler"
	"github.com/anstrom/netstick/internal/wifi"
	"github.com/anstrom/netstick/internal/workers"
)

const statusJob = "status"

// Sender delivers one message to the peer.
type Sender interface {
	Send(m protocol.Message) error
}

// HostDiscoverer sweeps the attached subnet.
type HostDiscoverer interface {
	Discover(ctx context.Context, session *scanning.Session, hosts scanning.HostSink, progress scanning.ProgressSink) (int, error)
}

// PortProber probes ports on one host.
type PortProber interface {
	Scan(ctx context.Context, session *scanning.Session, req portscan.Request,
		ports scanning.PortSink, progress scanning.ProgressSink) (*portscan.Result, error)
}

// HostAnalyzer profiles one host.
type HostAnalyzer interface {
	Analyze(ctx context.Context, session *scanning.Session, target string,
		ports scanning.PortSink, progress scanning.ProgressSink) (*analyze.Report, error)
}

// Config holds coordinator settings.
type Config struct {
	QueueSize         int
	LegacyPortResults bool
	ConnectTimeout    time.Duration
	// StatusInterval is a cron spec for the periodic status push; empty
	// disables it.
	StatusInterval string
}

// ConfigFrom derives coordinator settings from the device configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		QueueSize:         cfg.Protocol.QueueSize,
		LegacyPortResults: cfg.Protocol.LegacyPortResults,
		ConnectTimeout:    cfg.WiFi.ConnectTimeout,
		StatusInterval:    cfg.Status.Interval,
	}
}

// Deps are the collaborators the coordinator drives.
type Deps struct {
	WiFi     wifi.Adapter
	Hosts    HostDiscoverer
	Ports    PortProber
	Analyzer HostAnalyzer
	Power    PowerSource
	Display  display.Display
}

// Coordinator dispatches commands and owns the live scan session.
type Coordinator struct {
	config   Config
	sender   Sender
	wifi     wifi.Adapter
	hosts    HostDiscoverer
	ports    PortProber
	analyzer HostAnalyzer
	power    PowerSource
	display  display.Display

	sessions  *scanning.SessionManager
	queue     *workers.Pool
	scheduler *scheduler.Scheduler
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics

	peer atomic.Bool
	seq  atomic.Uint64
}

// New creates a coordinator sending through sender.
func New(cfg Config, sender Sender, deps Deps, logger *logging.Logger, m *metrics.PrometheusMetrics) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Power == nil {
		deps.Power = FixedPower{Level: 100}
	}
	if deps.Display == nil {
		deps.Display = display.Nop{}
	}

	queueCfg := workers.DefaultConfig()
	queueCfg.Size = 1
	if cfg.QueueSize > 0 {
		queueCfg.QueueSize = cfg.QueueSize
	}

	return &Coordinator{
		config:    cfg,
		sender:    sender,
		wifi:      deps.WiFi,
		hosts:     deps.Hosts,
		ports:     deps.Ports,
		analyzer:  deps.Analyzer,
		power:     deps.Power,
		display:   deps.Display,
		sessions:  scanning.NewSessionManager(1, m),
		queue:     workers.New(queueCfg, logger, m),
		scheduler: scheduler.NewScheduler(logger),
		logger:    logger.WithComponent("coordinator"),
		metrics:   m,
	}
}

// Start begins processing queued commands and the periodic status push.
func (c *Coordinator) Start() error {
	c.queue.Start()
	if c.config.StatusInterval != "" {
		if err := c.scheduler.AddJob(statusJob, c.config.StatusInterval, c.pushStatus); err != nil {
			return fmt.Errorf("failed to schedule status push: %w", err)
		}
	}
	return c.scheduler.Start()
}

// Stop cancels the live scan and waits for the worker to exit.
func (c *Coordinator) Stop() error {
	c.sessions.CancelAll()
	c.scheduler.Stop()
	if err := c.queue.Shutdown(); err != nil {
		return err
	}
	return c.sessions.Close()
}

// HandleConnect records that a peer is attached.
func (c *Coordinator) HandleConnect() {
	c.peer.Store(true)
	c.metrics.SetPeerConnected(true)
	c.display.PeerConnected(true)
}

// HandleDisconnect records the peer loss and cancels the live scan.
func (c *Coordinator) HandleDisconnect() {
	c.peer.Store(false)
	c.metrics.SetPeerConnected(false)
	c.display.PeerConnected(false)
	if n := c.sessions.CancelAll(); n > 0 {
		c.logger.Info("Peer lost, cancelling scan", "sessions", n)
	}
}

// HandleCommand dispatches one decoded command.
func (c *Coordinator) HandleCommand(cmd protocol.Command) {
	name := cmd.Name()

	if _, ok := cmd.(protocol.Cancel); ok {
		n := c.sessions.CancelAll()
		c.logger.Info("Cancel requested", "sessions", n)
		c.send(protocol.NewCancelled())
		c.metrics.IncrementCommands(name, "completed")
		return
	}

	c.send(protocol.NewAck(name))

	if _, ok := cmd.(protocol.Status); ok {
		c.send(c.Snapshot())
		c.metrics.IncrementCommands(name, "completed")
		return
	}

	id := fmt.Sprintf("%s-%d", name, c.seq.Add(1))
	job := workers.NewFuncJob(id, name, func(ctx context.Context) error {
		return c.execute(ctx, cmd)
	})
	if err := c.queue.Submit(job); err != nil {
		c.logger.Warn("Command rejected", "cmd", name, "error", err)
		c.metrics.IncrementCommands(name, "busy")
		c.sendError(errors.MsgBusy)
	}
}

// Snapshot builds a status report from the collaborators and the live session.
func (c *Coordinator) Snapshot() protocol.StatusReport {
	level, charging := c.power.Battery()
	r := protocol.StatusReport{
		Battery:       level,
		Charging:      charging,
		BTConnected:   c.peer.Load(),
		WiFiConnected: c.wifi.IsConnected(),
	}
	if r.WiFiConnected {
		r.SSID = c.wifi.CurrentSSID()
		r.RSSI = c.wifi.RSSI()
	}
	if s := c.sessions.Current(); s != nil {
		r.Operation = s.Stage()
		r.Progress = s.Percent()
	}
	return protocol.NewStatusReport(r)
}

func (c *Coordinator) pushStatus() {
	if !c.peer.Load() {
		return
	}
	c.send(c.Snapshot())
}

func (c *Coordinator) execute(ctx context.Context, cmd protocol.Command) error {
	name := cmd.Name()
	if cmd.RequiresNetwork() && !c.wifi.IsConnected() {
		c.sendError(errors.MsgWiFiNotConnected)
		return errors.NewPreconditionError(name, errors.MsgWiFiNotConnected)
	}

	session, err := c.sessions.Begin(ctx, name)
	if err != nil {
		return err
	}
	defer c.sessions.End(session)

	c.logger.WithScanID(session.ID).Info("Command started", "cmd", name)
	c.display.CommandStarted(name)

	switch cmd := cmd.(type) {
	case protocol.WiFiScan:
		return c.wifiScan(ctx)
	case protocol.WiFiConnect:
		return c.wifiConnect(ctx, cmd)
	case protocol.NetworkScan:
		return c.networkScan(ctx, session)
	case protocol.PortScan:
		return c.portScan(ctx, session, cmd)
	case protocol.AdvancedScan:
		return c.advancedScan(ctx, session, cmd)
	case protocol.Analyze:
		return c.analyze(ctx, session, cmd)
	default:
		return fmt.Errorf("no handler for command %s", name)
	}
}

func (c *Coordinator) wifiScan(ctx context.Context) error {
	found, err := c.wifi.ScanNetworks(ctx)
	if err != nil {
		c.sendError(errors.MsgWiFiScanFailed)
		return errors.WrapScanError(errors.CodeWiFiScan, errors.MsgWiFiScanFailed, err)
	}

	networks := make([]protocol.Network, 0, len(found))
	for _, n := range found {
		networks = append(networks, protocol.Network{
			SSID:       n.SSID,
			BSSID:      n.BSSID,
			RSSI:       n.RSSI,
			Channel:    n.Channel,
			Encryption: n.Encryption,
		})
	}
	c.send(protocol.NewWiFiResults(networks))
	c.display.CommandFinished(protocol.CmdWiFiScan, fmt.Sprintf("%d networks", len(networks)))
	return nil
}

func (c *Coordinator) wifiConnect(ctx context.Context, cmd protocol.WiFiConnect) error {
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	if err := c.wifi.Connect(ctx, cmd.SSID, cmd.Password); err != nil {
		c.logger.Warn("WiFi connect failed", "ssid", cmd.SSID, "error", err)
		c.sendError(errors.MsgWiFiConnectFailed)
		return errors.WrapScanError(errors.CodeWiFiConnect, errors.MsgWiFiConnectFailed, err)
	}

	ip, gateway := ipString(c.wifi.LocalIP()), ipString(c.wifi.GatewayIP())
	c.send(protocol.NewWiFiConnected(ip, gateway))
	c.display.CommandFinished(protocol.CmdWiFiConnect, ip)
	return nil
}

func (c *Coordinator) networkScan(ctx context.Context, session *scanning.Session) error {
	sink := c.newSink(false)
	count, err := c.hosts.Discover(ctx, session, sink, sink)
	if err != nil && !errors.IsCode(err, errors.CodeEngineFatal) {
		c.sendError(errors.PeerMessage(err))
		return err
	}
	c.send(protocol.NewNetDone(count))
	c.display.CommandFinished(protocol.CmdNetworkScan, fmt.Sprintf("%d hosts", count))
	return err
}

func (c *Coordinator) portScan(ctx context.Context, session *scanning.Session, cmd protocol.PortScan) error {
	sink := c.newSink(c.config.LegacyPortResults)
	result, err := c.ports.Scan(ctx, session, portscan.Request{
		Target: cmd.Target,
		Ports:  scanning.PortRange{Start: cmd.Start, End: cmd.End}.Ports(),
	}, sink, sink)
	if result == nil {
		c.sendError(errors.PeerMessage(err))
		return err
	}
	c.send(protocol.NewPortDone(result.Count()))
	c.display.CommandFinished(protocol.CmdPortScan, fmt.Sprintf("%d open", result.Count()))
	return err
}

func (c *Coordinator) advancedScan(ctx context.Context, session *scanning.Session, cmd protocol.AdvancedScan) error {
	sink := c.newSink(false)
	result, err := c.ports.Scan(ctx, session, portscan.Request{
		Target: cmd.Target,
		Ports:  scanning.PortRange{Start: cmd.Start, End: cmd.End}.Ports(),
		Options: portscan.Options{
			ServiceVersion: cmd.ServiceVersion,
			OSDetect:       cmd.OSDetect,
		},
	}, sink, sink)
	if result == nil {
		c.sendError(errors.PeerMessage(err))
		return err
	}

	open := make([]protocol.OpenPort, 0, len(result.Open))
	for _, p := range result.Open {
		open = append(open, protocol.OpenPort{
			Port:     p.Port,
			Protocol: "tcp",
			Service:  p.Service,
			Banner:   p.Banner,
			Version:  p.Version,
		})
	}
	c.send(protocol.NewPortDone(result.Count()))
	c.send(protocol.NewPortSummary(cmd.Target, cmd.Start, cmd.End, result.OS, open))
	c.display.CommandFinished(protocol.CmdAdvancedScan, fmt.Sprintf("%d open, os %s", result.Count(), result.OS))
	return err
}

func (c *Coordinator) analyze(ctx context.Context, session *scanning.Session, cmd protocol.Analyze) error {
	sink := c.newSink(false)
	report, err := c.analyzer.Analyze(ctx, session, cmd.Target, sink, sink)
	if report == nil {
		c.sendError(errors.PeerMessage(err))
		return err
	}
	c.send(protocol.NewAnalysisComplete(report.Target, report.Hostname, report.OS, report.SNMP, len(report.OpenPorts)))
	c.display.CommandFinished(protocol.CmdAnalyze, fmt.Sprintf("%s %s", report.Target, report.OS))
	return err
}

func (c *Coordinator) send(m protocol.Message) {
	if err := c.sender.Send(m); err != nil {
		c.logger.Debug("Message not delivered", "type", m.MessageType(), "error", err)
	}
}

func (c *Coordinator) sendError(message string) {
	c.display.Error(message)
	c.send(protocol.NewError(message))
}

func ipString(ip net.IP) string {
	if ip == nil {
		return "0.0.0.0"
	}
	return ip.String()
}
