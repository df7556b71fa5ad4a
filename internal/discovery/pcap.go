package discovery

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	pcapSnapLen     = 65536
	pcapReadTimeout = 10 * time.Millisecond
)

// PcapResolver sends raw ARP requests on the interface and waits for the
// matching reply. It needs CAP_NET_RAW.
type PcapResolver struct {
	iface   *net.Interface
	station Station
	handle  *pcap.Handle
	mu      sync.Mutex
}

// NewPcapResolver opens iface for ARP traffic. The sender protocol address
// is the station's current address, read on every request, so the resolver
// may be created before the station joins a network.
func NewPcapResolver(ifaceName string, station Station) (*PcapResolver, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("could not get interface: %w", err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("interface %s has no Ethernet address", ifaceName)
	}

	handle, err := pcap.OpenLive(ifaceName, pcapSnapLen, false, pcapReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not open handle: %w", err)
	}
	if err := handle.SetBPFFilter("arp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("could not set BPF filter: %w", err)
	}

	return &PcapResolver{iface: iface, station: station, handle: handle}, nil
}

func (r *PcapResolver) Name() string { return "pcap" }

// Close releases the capture handle.
func (r *PcapResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle != nil {
		r.handle.Close()
		r.handle = nil
	}
	return nil
}

// Resolve implements Resolver.
func (r *PcapResolver) Resolve(ctx context.Context, ip net.IP, timeout time.Duration) (net.HardwareAddr, error) {
	target := ip.To4()
	if target == nil {
		return nil, fmt.Errorf("target %v is not an IPv4 address", ip)
	}

	source, err := r.senderIP()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return nil, stderrors.New("resolver is closed")
	}

	request, err := buildARPRequest(r.iface.HardwareAddr, source, target)
	if err != nil {
		return nil, err
	}
	if err := r.handle.WritePacketData(request); err != nil {
		return nil, fmt.Errorf("failed to send ARP request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, _, err := r.handle.ReadPacketData()
		if stderrors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
		if mac := matchARPReply(data, target); mac != nil {
			return mac, nil
		}
	}
	return nil, ErrNoResponse
}

// senderIP is the station's current IPv4 address.
func (r *PcapResolver) senderIP() (net.IP, error) {
	if r.station == nil || !r.station.IsConnected() {
		return nil, stderrors.New("station is not connected")
	}
	src := r.station.LocalIP().To4()
	if src == nil {
		return nil, fmt.Errorf("station address %v is not an IPv4 address", r.station.LocalIP())
	}
	return src, nil
}

func buildARPRequest(srcMAC net.HardwareAddr, srcIP, dstIP net.IP) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(srcMAC),
		SourceProtAddress: []byte(srcIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(dstIP.To4()),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &arp); err != nil {
		return nil, fmt.Errorf("failed to serialize ARP request: %w", err)
	}
	return buf.Bytes(), nil
}

// matchARPReply returns the sender hardware address if data is an ARP reply
// from target.
func matchARPReply(data []byte, target net.IP) net.HardwareAddr {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	arpLayer := packet.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return nil
	}
	arp, ok := arpLayer.(*layers.ARP)
	if !ok || arp.Operation != layers.ARPReply {
		return nil
	}
	if !bytes.Equal(arp.SourceProtAddress, target.To4()) {
		return nil
	}
	mac := make(net.HardwareAddr, len(arp.SourceHwAddress))
	copy(mac, arp.SourceHwAddress)
	return mac
}
