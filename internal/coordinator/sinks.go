package coordinator

import (
	"github.com/anstrom/netstick/internal/protocol"
	"github.com/anstrom/netstick/internal/scanning"
)

// streamSink forwards engine events to the peer and the display as they
// happen. It implements scanning.HostSink, PortSink and ProgressSink.
type streamSink struct {
	c      *Coordinator
	legacy bool
}

func (c *Coordinator) newSink(legacy bool) *streamSink {
	return &streamSink{c: c, legacy: legacy}
}

func (s *streamSink) HostFound(h scanning.Host) {
	s.c.display.HostFound(h)
	s.c.send(protocol.NewDevice(h.IP, h.MAC, h.Vendor))
}

func (s *streamSink) PortOpen(p scanning.OpenPort) {
	s.c.display.PortOpen(p)
	if s.legacy {
		s.c.send(protocol.NewPortResult(p.Port, p.Service, p.Banner))
		return
	}
	s.c.send(protocol.NewPortRaw(p.IP, p.Port, p.Service, p.Banner, p.Version))
}

func (s *streamSink) Progress(p scanning.Progress) {
	s.c.display.Progress(p)
	m := protocol.NewProgress(p.Stage, p.Current, p.Total)
	m.Percent = p.Percent
	s.c.send(m)
}
