package analyze

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/miekg/dns"
)

// OIDSysDescr is SNMPv2-MIB::sysDescr.0.
const OIDSysDescr = "1.3.6.1.2.1.1.1.0"

// HostnameResolver finds the name registered for an address.
type HostnameResolver interface {
	LookupPTR(ctx context.Context, ip string) (string, error)
}

// SystemDescriber reads a host's self-description.
type SystemDescriber interface {
	SysDescr(ctx context.Context, ip string) (string, error)
}

// DNSResolver issues PTR queries to one server.
type DNSResolver struct {
	server  func() string
	timeout time.Duration
}

// NewDNSResolver creates a resolver querying the address returned by server
// at lookup time. A server without a port uses 53.
func NewDNSResolver(server func() string, timeout time.Duration) *DNSResolver {
	return &DNSResolver{server: server, timeout: timeout}
}

// LookupPTR returns the first PTR record for ip without the trailing dot.
func (r *DNSResolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	server := r.server()
	if server == "" {
		return "", fmt.Errorf("no DNS server available")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", ip, err)
	}
	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)

	client := &dns.Client{Timeout: r.timeout}
	in, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("PTR query: %w", err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("PTR query: %s", dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", fmt.Errorf("no PTR record for %s", ip)
}

// SNMPClient reads sysDescr over SNMP v2c.
type SNMPClient struct {
	community string
	timeout   time.Duration
	port      uint16
}

// NewSNMPClient creates a v2c client using community.
func NewSNMPClient(community string, timeout time.Duration) *SNMPClient {
	return &SNMPClient{community: community, timeout: timeout, port: 161}
}

// SysDescr implements SystemDescriber.
func (c *SNMPClient) SysDescr(ctx context.Context, ip string) (string, error) {
	g := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      c.port,
		Community: c.community,
		Version:   gosnmp.Version2c,
		Timeout:   c.timeout,
		Retries:   0,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return "", fmt.Errorf("snmp connect: %w", err)
	}
	defer func() { _ = g.Conn.Close() }()

	packet, err := g.Get([]string{OIDSysDescr})
	if err != nil {
		return "", fmt.Errorf("snmp get: %w", err)
	}
	for _, v := range packet.Variables {
		if s, ok := pduString(v); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("no sysDescr in response")
}

func pduString(v gosnmp.SnmpPDU) (string, bool) {
	if v.Type != gosnmp.OctetString {
		return "", false
	}
	b, ok := v.Value.([]byte)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}
