package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/netstick/internal/errors"
)

const (
	defaultARPTable = "/proc/net/arp"
	arpPollInterval = 5 * time.Millisecond
	arpFlagComplete = 0x2
	discardPort     = 9
)

// ErrNoResponse is returned when an address does not resolve in time. It
// carries CodeTimeout, so the sweep retries it.
var ErrNoResponse error = errors.NewScanError(errors.CodeTimeout, "no address resolution response")

// Resolver performs a link-layer liveness probe of one address.
type Resolver interface {
	// Resolve returns the hardware address of ip, waiting at most timeout.
	// A probe that gets no answer returns ErrNoResponse.
	Resolve(ctx context.Context, ip net.IP, timeout time.Duration) (net.HardwareAddr, error)
	Name() string
	Close() error
}

// KernelResolver makes the kernel issue the ARP request by sending a datagram
// to the address, then polls the kernel neighbour table for a completed
// entry. It needs no special privileges.
type KernelResolver struct {
	iface   string
	table   string
	poll    time.Duration
	trigger func(ip net.IP) error
}

// NewKernelResolver creates a resolver reading neighbours of iface. An empty
// iface accepts entries from any interface.
func NewKernelResolver(iface string) *KernelResolver {
	return &KernelResolver{
		iface:   iface,
		table:   defaultARPTable,
		poll:    arpPollInterval,
		trigger: sendDiscard,
	}
}

func (r *KernelResolver) Name() string { return "kernel" }
func (r *KernelResolver) Close() error { return nil }

// Resolve implements Resolver.
func (r *KernelResolver) Resolve(ctx context.Context, ip net.IP, timeout time.Duration) (net.HardwareAddr, error) {
	if err := r.trigger(ip); err != nil {
		return nil, errors.WrapDiscoveryError(errors.CodeNetworkUnreachable,
			"failed to trigger resolution of "+ip.String(), err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		mac, err := r.lookup(ip)
		if err != nil {
			return nil, err
		}
		if mac != nil {
			return mac, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNoResponse
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// lookup returns the completed neighbour entry for ip, or nil.
func (r *KernelResolver) lookup(ip net.IP) (net.HardwareAddr, error) {
	f, err := os.Open(r.table)
	if err != nil {
		return nil, fmt.Errorf("failed to read neighbour table: %w", err)
	}
	defer func() { _ = f.Close() }()

	want := ip.String()
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[0] != want {
			continue
		}
		if r.iface != "" && fields[5] != r.iface {
			continue
		}
		flags, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 32)
		if err != nil || flags&arpFlagComplete == 0 {
			continue
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil || isZeroMAC(mac) {
			continue
		}
		return mac, nil
	}
	return nil, scanner.Err()
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// sendDiscard sends one empty datagram to the discard port of ip, which is
// enough for the kernel to resolve the neighbour.
func sendDiscard(ip net.IP) error {
	conn, err := net.Dial("udp4", net.JoinHostPort(ip.String(), strconv.Itoa(discardPort)))
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_, err = conn.Write([]byte{0})
	return err
}
