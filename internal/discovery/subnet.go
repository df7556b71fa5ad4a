package discovery

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Subnet is the IPv4 network the device is attached to.
type Subnet struct {
	Network   uint32
	Broadcast uint32
	Self      uint32
	Prefix    int
}

// NewSubnet computes the network and broadcast addresses for ip/mask.
func NewSubnet(ip net.IP, mask net.IPMask) (Subnet, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return Subnet{}, fmt.Errorf("not an IPv4 address: %v", ip)
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return Subnet{}, fmt.Errorf("invalid IPv4 mask: %v", mask)
	}
	prefix, bits := mask.Size()
	if bits == 0 {
		return Subnet{}, fmt.Errorf("non-canonical mask: %v", mask)
	}

	self := binary.BigEndian.Uint32(ip4)
	m := binary.BigEndian.Uint32(mask)
	return Subnet{
		Network:   self & m,
		Broadcast: self | ^m,
		Self:      self,
		Prefix:    prefix,
	}, nil
}

// Size returns the number of addresses between the network and broadcast
// addresses, exclusive.
func (s Subnet) Size() int {
	if s.Broadcast <= s.Network+1 {
		return 0
	}
	return int(s.Broadcast - s.Network - 1)
}

// Hosts enumerates every host address in ascending order, excluding the
// network, broadcast and own addresses.
func (s Subnet) Hosts() []net.IP {
	hosts := make([]net.IP, 0, s.Size())
	if s.Size() == 0 {
		return hosts
	}
	for a := s.Network + 1; a < s.Broadcast; a++ {
		if a == s.Self {
			continue
		}
		hosts = append(hosts, uint32ToIP(a))
	}
	return hosts
}

func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", uint32ToIP(s.Network), s.Prefix)
}

func uint32ToIP(a uint32) net.IP {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, a)
	return ip
}
