// Package channel implements the peer command channel: inbound chunks are
// reassembled into JSON commands and outbound messages are serialized and
// fragmented to fit the transport's payload size.
//
// The channel is the only writer to the transport. Send is safe for
// concurrent use and delivers each message's fragments contiguously and in
// order.
package channel

import (
	"sync"
	"time"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/protocol"
)

// MinPayload is the smallest usable payload per notification.
const MinPayload = 20

// Refusal reasons reported when a send is dropped.
const (
	refusedNoPeer        = "no_peer"
	refusedNotifications = "notifications_disabled"
)

// Transport is the notify-out half of the peer link.
type Transport interface {
	// Notify delivers one chunk to the peer.
	Notify(chunk []byte) error
	// MaxPayload is the usable payload of one notification.
	MaxPayload() int
	// Connected reports whether a peer is attached.
	Connected() bool
	// NotificationsEnabled reports whether the peer accepts result delivery.
	NotificationsEnabled() bool
}

// Handler receives what the channel decodes.
type Handler interface {
	HandleCommand(cmd protocol.Command)
	HandleConnect()
	HandleDisconnect()
}

// Config holds channel settings.
type Config struct {
	BufferSize        int
	OverflowThreshold int
	ChunkDelay        time.Duration
	DefaultStart      int
	DefaultEnd        int
	Sanitizer         protocol.Sanitizer
}

// ConfigFrom derives channel settings from the device configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		BufferSize:        cfg.Protocol.BufferSize,
		OverflowThreshold: cfg.OverflowThreshold(),
		ChunkDelay:        cfg.Transport.ChunkDelay,
		DefaultStart:      cfg.PortScan.DefaultStart,
		DefaultEnd:        cfg.PortScan.DefaultEnd,
		Sanitizer:         protocol.NewSanitizer(cfg.Protocol.Limits),
	}
}

// Channel is the command channel between one peer and the scan coordinator.
type Channel struct {
	transport Transport
	handler   Handler
	decoder   *protocol.Decoder
	encoder   *protocol.Encoder
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics

	chunkDelay time.Duration
	sleep      func(time.Duration)

	rxMu   sync.Mutex
	buffer *Buffer

	txMu sync.Mutex
}

// New creates a channel writing to transport. The handler is attached with
// SetHandler before the transport starts delivering data.
func New(cfg Config, transport Transport, logger *logging.Logger, m *metrics.PrometheusMetrics) *Channel {
	if logger == nil {
		logger = logging.Default()
	}
	return &Channel{
		transport:  transport,
		decoder:    protocol.NewDecoder(cfg.DefaultStart, cfg.DefaultEnd),
		encoder:    protocol.NewEncoder(cfg.Sanitizer),
		logger:     logger.WithComponent("channel"),
		metrics:    m,
		chunkDelay: cfg.ChunkDelay,
		sleep:      time.Sleep,
		buffer:     NewBuffer(cfg.BufferSize, cfg.OverflowThreshold),
	}
}

// SetHandler attaches the consumer of decoded commands and link events.
func (c *Channel) SetHandler(h Handler) {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	c.handler = h
}

// OnConnect is called by the transport when a peer attaches.
func (c *Channel) OnConnect() {
	c.rxMu.Lock()
	c.buffer.Reset()
	h := c.handler
	c.rxMu.Unlock()

	c.logger.Info("Peer connected")
	if h != nil {
		h.HandleConnect()
	}
}

// OnDisconnect is called by the transport when the peer goes away.
func (c *Channel) OnDisconnect() {
	c.rxMu.Lock()
	c.buffer.Reset()
	h := c.handler
	c.rxMu.Unlock()

	c.logger.Info("Peer disconnected")
	if h != nil {
		h.HandleDisconnect()
	}
}

// OnData feeds one inbound chunk. At most one command is decoded per call;
// anything after the first complete value in the buffer is discarded.
func (c *Channel) OnData(chunk []byte) {
	c.logger.DebugWire("rx", chunk, "buffered", c.bufferedLen())

	cmd, err := c.assemble(chunk)
	if err != nil {
		c.reject(err)
		return
	}
	if cmd == nil {
		return
	}

	c.rxMu.Lock()
	h := c.handler
	c.rxMu.Unlock()
	if h != nil {
		h.HandleCommand(cmd)
	}
}

func (c *Channel) bufferedLen() int {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()
	return c.buffer.Len()
}

// assemble appends chunk and tries one decode. A nil command with a nil
// error means more input is needed.
func (c *Channel) assemble(chunk []byte) (protocol.Command, error) {
	c.rxMu.Lock()
	defer c.rxMu.Unlock()

	if err := c.buffer.Append(chunk); err != nil {
		c.metrics.IncrementBufferOverflows()
		return nil, errors.NewProtocolError(errors.MsgCommandTooLarge, err)
	}

	value, state, err := c.buffer.Next()
	switch state {
	case parseIncomplete:
		return nil, nil
	case parseMalformed:
		return nil, errors.NewProtocolError(errors.MsgInvalidJSON, err)
	}

	c.logger.Debug("Command received", "payload", string(value))
	return c.decoder.Decode(value)
}

func (c *Channel) reject(err error) {
	code := errors.GetCode(err)
	c.metrics.IncrementProtocolErrors(string(code))
	c.logger.Warn("Rejected peer input", "code", code, "error", err)
	if sendErr := c.Send(protocol.NewError(errors.PeerMessage(err))); sendErr != nil {
		c.logger.Debug("Error response not delivered", "error", sendErr)
	}
}

// Send serializes m and delivers it to the peer, split into chunks of the
// transport's payload size with ChunkDelay between them. When no peer is
// connected or notifications are off, the message is dropped and a
// TRANSPORT_SEND error returned. There is no retry.
func (c *Channel) Send(m protocol.Message) error {
	data, err := c.encoder.Encode(m)
	if err != nil {
		return err
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	if !c.transport.Connected() {
		return c.refuse(m, refusedNoPeer)
	}
	if !c.transport.NotificationsEnabled() {
		return c.refuse(m, refusedNotifications)
	}

	chunks := Fragment(data, c.transport.MaxPayload())
	for i, chunk := range chunks {
		if i > 0 && c.chunkDelay > 0 {
			c.sleep(c.chunkDelay)
		}
		if err := c.transport.Notify(chunk); err != nil {
			c.logger.Warn("Notification failed", "type", m.MessageType(), "fragment", i, "error", err)
			return errors.WrapScanError(errors.CodeTransportSend, "notification failed", err)
		}
	}

	c.metrics.IncrementMessagesSent(m.MessageType(), len(chunks))
	c.logger.DebugWire("tx", data, "type", m.MessageType(), "fragments", len(chunks))
	return nil
}

func (c *Channel) refuse(m protocol.Message, reason string) error {
	c.metrics.IncrementSendsRefused(reason)
	c.logger.Warn("Send refused", "type", m.MessageType(), "reason", reason)
	return errors.NewScanError(errors.CodeTransportSend, "send refused: "+reason)
}

// Fragment splits data into successive chunks of exactly size bytes, the
// last one shorter. Sizes below MinPayload are raised to MinPayload. The
// returned chunks alias data.
func Fragment(data []byte, size int) [][]byte {
	if size < MinPayload {
		size = MinPayload
	}
	if len(data) <= size {
		return [][]byte{data}
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}
