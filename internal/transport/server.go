// Package transport provides the NUS-style peer link over a WebSocket: one
// peer at a time, binary frames in as write chunks, binary frames out as
// notifications sized to the negotiated MTU.
package transport

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/anstrom/netstick/internal/channel"
	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriodRatio = 0.9
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio)

	// attHeader is the per-notification overhead subtracted from the MTU.
	attHeader = 3

	// PairingHeader carries the pairing key on the upgrade request. The
	// "key" query parameter is accepted as well.
	PairingHeader = "X-Pairing-Key"

	// Text frames toggle result delivery, like a client characteristic
	// configuration write.
	notifyOn  = "notify on"
	notifyOff = "notify off"
)

var (
	// ErrNoPeer is returned by Notify when no peer is attached.
	ErrNoPeer = stderrors.New("no peer connected")
)

// Link receives peer events. *channel.Channel implements it.
type Link interface {
	OnConnect()
	OnDisconnect()
	OnData(chunk []byte)
}

// Config holds transport settings.
type Config struct {
	DefaultMTU     int
	PairingKeyHash string
	ReadLimit      int64
}

// ConfigFrom converts the transport section of the device configuration.
func ConfigFrom(cfg config.TransportConfig) Config {
	return Config{
		DefaultMTU:     cfg.DefaultMTU,
		PairingKeyHash: cfg.PairingKeyHash,
		ReadLimit:      cfg.ReadLimit,
	}
}

// HashPairingKey returns the bcrypt hash stored in transport.pairing_key_hash.
func HashPairingKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Server accepts the single peer connection.
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *metrics.PrometheusMetrics

	mu       sync.RWMutex
	link     Link
	conn     *websocket.Conn
	reserved bool
	mtu      int
	notify   bool

	writeMu sync.Mutex
}

// NewServer creates a transport server. Attach the link before serving.
func NewServer(cfg Config, logger *logging.Logger, m *metrics.PrometheusMetrics) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.WithComponent("transport"),
		metrics: m,
		mtu:     cfg.DefaultMTU,
	}
}

// Attach sets the receiver of peer events.
func (s *Server) Attach(link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = link
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.metrics.IncrementConnections("unauthorized")
		s.logger.Warn("Peer rejected: bad pairing key", "remote_addr", r.RemoteAddr)
		http.Error(w, "pairing key required", http.StatusUnauthorized)
		return
	}
	if !s.reserve() {
		s.metrics.IncrementConnections("rejected")
		s.logger.Warn("Peer rejected: already connected", "remote_addr", r.RemoteAddr)
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		s.metrics.IncrementConnections("failed")
		s.logger.Error("Failed to upgrade connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	mtu := s.config.DefaultMTU
	if v, err := strconv.Atoi(r.URL.Query().Get("mtu")); err == nil && v > 0 {
		mtu = v
	}
	s.mu.Lock()
	s.conn = conn
	s.mtu = mtu
	s.notify = r.URL.Query().Get("notify") != "0"
	link := s.link
	s.mu.Unlock()

	s.metrics.IncrementConnections("accepted")
	log := s.logger.WithPeer(r.RemoteAddr)
	log.Info("Peer attached", "mtu", mtu, "max_payload", s.MaxPayload())

	if link != nil {
		link.OnConnect()
	}

	done := make(chan struct{})
	go s.pingLoop(conn, done)
	s.readLoop(conn, link, log)
	close(done)

	s.mu.Lock()
	s.conn = nil
	s.reserved = false
	s.notify = false
	s.mu.Unlock()
	if err := conn.Close(); err != nil {
		log.Debug("Error closing connection", "error", err)
	}

	log.Info("Peer detached")
	if link != nil {
		link.OnDisconnect()
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.config.PairingKeyHash == "" {
		return true
	}
	key := r.Header.Get(PairingHeader)
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	return bcrypt.CompareHashAndPassword([]byte(s.config.PairingKeyHash), []byte(key)) == nil
}

func (s *Server) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reserved {
		return false
	}
	s.reserved = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.reserved = false
	s.mu.Unlock()
}

func (s *Server) readLoop(conn *websocket.Conn, link Link, log *logging.Logger) {
	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error("Failed to set read deadline", "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("Peer closed unexpectedly", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			if link != nil {
				link.OnData(data)
			}
		case websocket.TextMessage:
			s.control(string(data), log)
		}
	}
}

func (s *Server) control(msg string, log *logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch msg {
	case notifyOn:
		s.notify = true
	case notifyOff:
		s.notify = false
	default:
		log.Debug("Ignoring control frame", "frame", msg)
		return
	}
	log.Debug("Notifications toggled", "enabled", s.notify)
}

func (s *Server) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

// Notify sends one chunk to the peer as a binary frame.
func (s *Server) Notify(chunk []byte) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNoPeer
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// MaxPayload is the negotiated MTU less the notification header, never
// below channel.MinPayload.
func (s *Server) MaxPayload() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return max(s.mtu-attHeader, channel.MinPayload)
}

// Connected reports whether a peer is attached.
func (s *Server) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// NotificationsEnabled reports whether the peer accepts notifications.
func (s *Server) NotificationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.notify
}

// Close drops the current peer, if any.
func (s *Server) Close() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return conn.Close()
}
