// Package portscan implements the port probe engine: TCP connect probing of
// one target with banner capture, service classification, optional version
// extraction and a memoised OS fingerprint.
package portscan

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/scanning"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Link reports whether the network the target is reached through is up.
type Link interface {
	IsConnected() bool
}

// Config holds probe settings.
type Config struct {
	ConnectTimeout time.Duration
	BannerTimeout  time.Duration
	BannerSize     int
	MaxResults     int
	PortDelay      time.Duration
	HTTPProbePorts []int
}

// ConfigFrom converts the portscan section of the device configuration.
func ConfigFrom(cfg config.PortScanConfig) Config {
	return Config{
		ConnectTimeout: cfg.ConnectTimeout,
		BannerTimeout:  cfg.BannerTimeout,
		BannerSize:     cfg.BannerSize,
		MaxResults:     cfg.MaxResults,
		PortDelay:      cfg.PortDelay,
		HTTPProbePorts: cfg.HTTPProbePorts,
	}
}

// Options selects the optional per-scan work.
type Options struct {
	ServiceVersion bool
	OSDetect       bool
}

// Request describes one probe run.
type Request struct {
	Target string
	Ports  []int
	Options
	// Stage labels progress reports; defaults to port_scan.
	Stage string
}

// Result is the outcome of a probe run. Open holds at most MaxResults
// entries, in port order.
type Result struct {
	Target  string
	Open    []scanning.OpenPort
	OS      string
	Scanned int
	// Found counts every open port, including those past MaxResults.
	Found int
}

// Count is the number of retained open ports.
func (r *Result) Count() int {
	return len(r.Open)
}

// Engine probes ports.
type Engine struct {
	config  Config
	dialer  Dialer
	link    Link
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics
	probeOn map[int]bool
}

// NewEngine creates a port probe engine. link may be nil, in which case the
// network is assumed to stay up.
func NewEngine(cfg Config, link Link, logger *logging.Logger, m *metrics.PrometheusMetrics) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	probeOn := make(map[int]bool, len(cfg.HTTPProbePorts))
	for _, p := range cfg.HTTPProbePorts {
		probeOn[p] = true
	}
	return &Engine{
		config:  cfg,
		dialer:  &net.Dialer{},
		link:    link,
		logger:  logger.WithComponent("portscan"),
		metrics: m,
		probeOn: probeOn,
	}
}

// SetDialer replaces the dialer used for every connection.
func (e *Engine) SetDialer(d Dialer) {
	e.dialer = d
}

// Scan probes req.Ports in order. Every open port is passed to ports before
// the next one is probed; progress reports end with a terminal 100% report.
// Cancellation through the session returns the partial result and a nil
// error. Losing the network returns the partial result with an
// ENGINE_FATAL error.
func (e *Engine) Scan(ctx context.Context, session *scanning.Session, req Request,
	ports scanning.PortSink, progress scanning.ProgressSink) (*Result, error) {
	if net.ParseIP(req.Target) == nil {
		return nil, errors.ErrInvalidTarget(req.Target)
	}
	stage := req.Stage
	if stage == "" {
		stage = scanning.StagePortScan
	}

	log := e.logger.WithScanID(session.ID)
	log.InfoScan("Starting port probe", req.Target, "ports", len(req.Ports),
		"versions", req.ServiceVersion, "os", req.OSDetect)

	started := time.Now()
	result := &Result{Target: req.Target, OS: OSUnknown}
	tracker := scanning.NewTracker(stage, len(req.Ports), progress, session)
	err := e.run(ctx, session, req, result, ports, tracker)
	tracker.Finish()

	status := "completed"
	switch {
	case err != nil:
		status = "failed"
	case session.Cancelled():
		status = "cancelled"
	}
	e.metrics.IncrementScansTotal(stage, status)
	e.metrics.RecordScanDuration(stage, time.Since(started))
	e.metrics.IncrementPortsScanned("open", result.Found)
	e.metrics.IncrementPortsScanned("closed", result.Scanned-result.Found)
	if err != nil {
		log.ErrorScan("Port probe failed", req.Target, err, "open", result.Found, "scanned", result.Scanned)
	} else {
		log.InfoScan("Port probe finished", req.Target, "open", result.Found,
			"scanned", result.Scanned, "status", status)
	}

	return result, err
}

func (e *Engine) run(ctx context.Context, session *scanning.Session, req Request,
	result *Result, sink scanning.PortSink, tracker *scanning.Tracker) error {
	var limiter *rate.Limiter
	if e.config.PortDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.config.PortDelay), 1)
	}
	var cache osCache

	for i, port := range req.Ports {
		if session.Cancelled() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.WrapScanErrorWithTarget(errors.CodeCanceled, "probe interrupted", req.Target, err)
		}
		if e.link != nil && !e.link.IsConnected() {
			return errors.NewScanErrorWithTarget(errors.CodeEngineFatal, "network lost during port probe", req.Target)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return errors.WrapScanErrorWithTarget(errors.CodeCanceled, "probe interrupted", req.Target, err)
			}
		}

		if open, ok := e.probePort(ctx, req.Target, port, req.ServiceVersion); ok {
			result.Found++
			if req.OSDetect {
				result.OS = cache.get(func() string { return e.fingerprint(ctx, req.Target) })
			}
			if e.config.MaxResults <= 0 || len(result.Open) < e.config.MaxResults {
				result.Open = append(result.Open, open)
			}
			if sink != nil {
				sink.PortOpen(open)
			}
		}

		result.Scanned = i + 1
		tracker.Step(i + 1)
	}
	return nil
}

// probePort connects to one port and, if it is open, captures and
// classifies its banner. The connection is closed before returning.
func (e *Engine) probePort(ctx context.Context, target string, port int, versions bool) (scanning.OpenPort, bool) {
	conn, err := e.dial(ctx, target, port)
	if err != nil {
		return scanning.OpenPort{}, false
	}

	if e.probeOn[port] {
		_ = conn.SetWriteDeadline(time.Now().Add(e.config.BannerTimeout))
		_, _ = conn.Write([]byte("GET / HTTP/1.0\r\nHost: " + target + "\r\n\r\n"))
	}
	banner := readBanner(conn, e.config.BannerTimeout, e.config.BannerSize)
	_ = conn.Close()

	open := scanning.OpenPort{
		IP:      target,
		Port:    port,
		Service: identifyService(banner, port),
		Banner:  banner,
	}
	if versions {
		open.Version = e.version(ctx, target, port, open.Service, banner)
	}
	e.logger.Debug("Port open", "target", target, "port", port, "service", open.Service)
	return open, true
}

// version extracts a version token for an open port. Failure leaves it empty.
func (e *Engine) version(ctx context.Context, target string, port int, service, banner string) string {
	switch {
	case service == ServiceSSH:
		return sshVersion(banner)
	case service == ServiceFTP || service == ServiceSMTP:
		return greetingVersion(banner)
	case isHTTPService(service) || e.probeOn[port]:
		server, err := e.serverHeader(ctx, target, port)
		if err != nil {
			e.logger.Debug("HEAD probe failed", "target", target, "port", port, "error", err)
			return ""
		}
		return server
	case tlsPorts[port]:
		v, err := e.tlsVersion(ctx, target, port)
		if err != nil {
			e.logger.Debug("TLS probe failed", "target", target, "port", port, "error", err)
			return ""
		}
		return v
	}
	return ""
}

func (e *Engine) dial(ctx context.Context, target string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(target, strconv.Itoa(port))
	if e.config.ConnectTimeout <= 0 {
		return e.dialer.DialContext(ctx, "tcp", addr)
	}
	dctx, cancel := context.WithTimeout(ctx, e.config.ConnectTimeout)
	defer cancel()
	return e.dialer.DialContext(dctx, "tcp", addr)
}
