package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/anstrom/netstick/internal/channel"
	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/logging"
)

type recordingLink struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	chunks      [][]byte
}

func (l *recordingLink) OnConnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
}

func (l *recordingLink) OnDisconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnects++
}

func (l *recordingLink) OnData(chunk []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chunks = append(l.chunks, append([]byte(nil), chunk...))
}

func (l *recordingLink) snapshot() (int, int, [][]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects, l.disconnects, append([][]byte(nil), l.chunks...)
}

func startServer(t *testing.T, cfg Config) (*Server, *recordingLink, string) {
	t.Helper()
	s := NewServer(cfg, logging.NewNop(), nil)
	link := &recordingLink{}
	s.Attach(link)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, link, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerLifecycle(t *testing.T) {
	s, link, url := startServer(t, Config{DefaultMTU: 185, ReadLimit: 512})
	assert.False(t, s.Connected())

	conn := dial(t, url, nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
	assert.True(t, s.NotificationsEnabled())
	assert.Equal(t, 182, s.MaxPayload())

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"cmd":`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`"status"}`)))
	require.Eventually(t, func() bool {
		_, _, chunks := link.snapshot()
		return len(chunks) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Notify([]byte(`{"type":"ack","cmd":"status"}`)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.JSONEq(t, `{"type":"ack","cmd":"status"}`, string(data))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return !s.Connected() }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, d, _ := link.snapshot()
		return d == 1
	}, time.Second, 5*time.Millisecond)
	connects, _, _ := link.snapshot()
	assert.Equal(t, 1, connects)

	assert.ErrorIs(t, s.Notify([]byte("x")), ErrNoPeer)
}

func TestOversizedChunkReachesChannel(t *testing.T) {
	cfg := config.Default()
	s := NewServer(ConfigFrom(cfg.Transport), logging.NewNop(), nil)
	ch := channel.New(channel.ConfigFrom(cfg), s, logging.NewNop(), nil)
	s.Attach(ch)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	conn := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	big := []byte(`{"cmd":"wifi_connect","ssid":"` + strings.Repeat("a", 600) + `"}`)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, big))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "the peer stays connected")
	assert.JSONEq(t, `{"type":"error","message":"Command too large"}`, string(data))
	assert.True(t, s.Connected())
}

func TestNegotiatedMTU(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"?mtu=100", 97},
		{"?mtu=10", 20},
		{"?mtu=bogus", 182},
		{"", 182},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			s, _, url := startServer(t, Config{DefaultMTU: 185})
			dial(t, url+tt.query, nil)
			require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
			assert.Equal(t, tt.want, s.MaxPayload())
		})
	}
}

func TestSinglePeer(t *testing.T) {
	s, link, url := startServer(t, Config{DefaultMTU: 185})
	dial(t, url, nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Eventually(t, func() bool {
		c, _, _ := link.snapshot()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotificationToggle(t *testing.T) {
	s, _, url := startServer(t, Config{DefaultMTU: 185})
	conn := dial(t, url+"?notify=0", nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
	assert.False(t, s.NotificationsEnabled())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("notify on")))
	require.Eventually(t, s.NotificationsEnabled, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("notify off")))
	require.Eventually(t, func() bool { return !s.NotificationsEnabled() }, time.Second, 5*time.Millisecond)
}

func TestPairing(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("246810"), bcrypt.MinCost)
	require.NoError(t, err)
	s, link, url := startServer(t, Config{DefaultMTU: 185, PairingKeyHash: string(hash)})

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{PairingHeader: []string{"000000"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dial(t, url+"?key=246810", nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		c, _, _ := link.snapshot()
		return c == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHashPairingKey(t *testing.T) {
	hash, err := HashPairingKey("1357")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("1357")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("2468")))
}

func TestCloseDropsPeer(t *testing.T) {
	s, link, url := startServer(t, Config{DefaultMTU: 185})
	dial(t, url, nil)
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool {
		_, d, _ := link.snapshot()
		return d == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, s.Connected())
	assert.NoError(t, s.Close())
}
