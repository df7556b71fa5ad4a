package analyze

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/portscan"
	"github.com/anstrom/netstick/internal/scanning"
)

type stubNames struct {
	name string
	err  error
}

func (s stubNames) LookupPTR(context.Context, string) (string, error) { return s.name, s.err }

type stubDescriber struct {
	descr string
	err   error
	calls int
}

func (s *stubDescriber) SysDescr(context.Context, string) (string, error) {
	s.calls++
	return s.descr, s.err
}

// bannerDialer answers the listed ports with a fixed banner.
type bannerDialer map[int]string

func (d bannerDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	_, p, _ := net.SplitHostPort(address)
	port, _ := strconv.Atoi(p)
	banner, ok := d[port]
	if !ok {
		return nil, fmt.Errorf("dial tcp %s: connection refused", address)
	}
	client, server := net.Pipe()
	go func() {
		_, _ = server.Write([]byte(banner))
		_ = server.Close()
	}()
	return client, nil
}

type gatewayStub net.IP

func (g gatewayStub) GatewayIP() net.IP { return net.IP(g) }

type portRecorder struct{ ports []scanning.OpenPort }

func (r *portRecorder) PortOpen(p scanning.OpenPort) { r.ports = append(r.ports, p) }

type progressRecorder struct{ reports []scanning.Progress }

func (r *progressRecorder) Progress(p scanning.Progress) { r.reports = append(r.reports, p) }

func newPortEngine(d portscan.Dialer) *portscan.Engine {
	e := portscan.NewEngine(portscan.Config{
		ConnectTimeout: 100 * time.Millisecond,
		BannerTimeout:  20 * time.Millisecond,
		BannerSize:     256,
		MaxResults:     100,
	}, nil, logging.NewNop(), nil)
	e.SetDialer(d)
	return e
}

func TestAnalyze(t *testing.T) {
	engine := newPortEngine(bannerDialer{22: "SSH-2.0-OpenSSH_9.6\r\n", 6379: ""})
	describer := &stubDescriber{descr: "Linux nas 6.1.0 #1 SMP x86_64"}
	a := NewWith(engine, stubNames{name: "nas.lan"}, describer, logging.NewNop())

	sink := &portRecorder{}
	progress := &progressRecorder{}
	report, err := a.Analyze(context.Background(), scanning.NewSession("analyze"), "192.168.1.30", sink, progress)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.30", report.Target)
	assert.Equal(t, "nas.lan", report.Hostname)
	assert.Equal(t, "Linux nas 6.1.0 #1 SMP x86_64", report.SNMP)
	assert.Equal(t, portscan.OSLinuxUnix, report.OS)
	require.Len(t, report.OpenPorts, 2)
	assert.Equal(t, 22, report.OpenPorts[0].Port)
	assert.Equal(t, "OpenSSH_9.6", report.OpenPorts[0].Version)
	assert.Equal(t, "Redis", report.OpenPorts[1].Service)
	assert.Len(t, sink.ports, 2)

	require.NotEmpty(t, progress.reports)
	last := progress.reports[len(progress.reports)-1]
	assert.Equal(t, scanning.StageAnalyze, last.Stage)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, len(portscan.CommonPorts), last.Total)
}

func TestAnalyzeLookupFailures(t *testing.T) {
	engine := newPortEngine(bannerDialer{})
	a := NewWith(engine, stubNames{err: fmt.Errorf("nxdomain")},
		&stubDescriber{err: fmt.Errorf("timeout")}, logging.NewNop())

	report, err := a.Analyze(context.Background(), scanning.NewSession("analyze"), "192.168.1.31", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Hostname)
	assert.Empty(t, report.SNMP)
	assert.Equal(t, portscan.OSUnknown, report.OS)
	assert.Empty(t, report.OpenPorts)
}

func TestAnalyzeCancelled(t *testing.T) {
	engine := newPortEngine(bannerDialer{22: "SSH-2.0-x\r\n"})
	describer := &stubDescriber{}
	a := NewWith(engine, stubNames{name: "x"}, describer, logging.NewNop())

	session := scanning.NewSession("analyze")
	session.Cancel()
	report, err := a.Analyze(context.Background(), session, "192.168.1.32", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", report.Hostname)
	assert.Zero(t, describer.calls)
	assert.Empty(t, report.OpenPorts)
}

func TestAnalyzeInvalidTarget(t *testing.T) {
	a := NewWith(newPortEngine(bannerDialer{}), stubNames{}, &stubDescriber{}, logging.NewNop())
	_, err := a.Analyze(context.Background(), scanning.NewSession("analyze"), "router", nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeTargetInvalid))
}

func startDNSServer(t *testing.T, answer string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("in-addr.arpa.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if answer == "" {
			m.Rcode = dns.RcodeNameError
		} else {
			m.Answer = append(m.Answer, &dns.PTR{
				Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 60},
				Ptr: answer,
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver(t *testing.T) {
	addr := startDNSServer(t, "printer.lan.")
	r := NewDNSResolver(func() string { return addr }, time.Second)

	name, err := r.LookupPTR(context.Background(), "192.168.1.40")
	require.NoError(t, err)
	assert.Equal(t, "printer.lan", name)
}

func TestDNSResolverNXDomain(t *testing.T) {
	addr := startDNSServer(t, "")
	r := NewDNSResolver(func() string { return addr }, time.Second)

	_, err := r.LookupPTR(context.Background(), "192.168.1.41")
	assert.Error(t, err)
}

func TestDNSResolverNoServer(t *testing.T) {
	r := NewDNSResolver(func() string { return "" }, time.Second)
	_, err := r.LookupPTR(context.Background(), "192.168.1.41")
	assert.Error(t, err)
}

func TestNewUsesGatewayForDNS(t *testing.T) {
	a := New(config.AnalyzeConfig{DNSTimeout: time.Second}, newPortEngine(bannerDialer{}),
		gatewayStub(net.ParseIP("192.168.1.1")), logging.NewNop())
	r, ok := a.names.(*DNSResolver)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.1", r.server())

	a = New(config.AnalyzeConfig{DNSServer: "9.9.9.9"}, newPortEngine(bannerDialer{}), nil, logging.NewNop())
	assert.Equal(t, "9.9.9.9", a.names.(*DNSResolver).server())
}

func TestPDUString(t *testing.T) {
	s, ok := pduString(gosnmp.SnmpPDU{Name: OIDSysDescr, Type: gosnmp.OctetString, Value: []byte(" RouterOS 7.14 ")})
	assert.True(t, ok)
	assert.Equal(t, "RouterOS 7.14", s)

	_, ok = pduString(gosnmp.SnmpPDU{Name: OIDSysDescr, Type: gosnmp.NoSuchObject})
	assert.False(t, ok)
}
