package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/protocol"
)

type staticStatus protocol.StatusReport

func (s staticStatus) Snapshot() protocol.StatusReport {
	return protocol.NewStatusReport(protocol.StatusReport(s))
}

func createTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Transport.ListenAddr = "127.0.0.1"
	cfg.Transport.Port = 0
	return cfg
}

func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	cfg := createTestConfig()
	cfg.Transport.ListenAddr = "10.0.0.5"
	cfg.Transport.Port = 9000

	s := New(cfg, nil, nil, logging.NewNop(), nil)
	assert.NotNil(t, s.GetRouter())
	assert.Equal(t, "10.0.0.5:9000", s.GetAddress())
}

func TestBuiltinHandlers(t *testing.T) {
	status := staticStatus{Battery: 90, BTConnected: true, WiFiConnected: true, SSID: "lab", Operation: "port_scan", Progress: 40}
	s := New(createTestConfig(), nil, status, logging.NewNop(), nil)

	tests := []struct {
		name          string
		path          string
		checkResponse func(t *testing.T, body map[string]interface{})
	}{
		{
			name: "liveness endpoint",
			path: "/api/v1/liveness",
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "alive", body["status"])
				assert.Contains(t, body, "uptime")
			},
		},
		{
			name: "health endpoint",
			path: "/api/v1/health",
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "healthy", body["status"])
				checks := body["checks"].(map[string]interface{})
				assert.Equal(t, "connected", checks["peer"])
				assert.Equal(t, "connected", checks["wifi"])
				assert.Equal(t, "port_scan", checks["operation"])
			},
		},
		{
			name: "status endpoint",
			path: "/api/v1/status",
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "status", body["type"])
				assert.Equal(t, "lab", body["ssid"])
				assert.EqualValues(t, 40, body["progress"])
				assert.EqualValues(t, 90, body["battery"])
			},
		},
		{
			name: "version endpoint",
			path: "/api/v1/version",
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, Version, body["version"])
				assert.Equal(t, "netstick", body["service"])
			},
		},
		{
			name: "index",
			path: "/",
			checkResponse: func(t *testing.T, body map[string]interface{}) {
				assert.Contains(t, body, "endpoints")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, s, http.MethodGet, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			tt.checkResponse(t, body)
		})
	}
}

func TestStatusWithoutProvider(t *testing.T) {
	s := New(createTestConfig(), nil, nil, logging.NewNop(), nil)

	rec := serve(t, s, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(t, s, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewPrometheusMetrics()
	m.IncrementCommands("status", "completed")

	cfg := createTestConfig()
	s := New(cfg, nil, nil, logging.NewNop(), m)
	rec := serve(t, s, http.MethodGet, cfg.Metrics.Path)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "netstick_")

	cfg.Metrics.Enabled = false
	s = New(cfg, nil, nil, logging.NewNop(), m)
	rec = serve(t, s, http.MethodGet, cfg.Metrics.Path)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(createTestConfig(), nil, nil, logging.NewNop(), nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/status", "/api/v1/liveness", "/api/v1/version"} {
		rec := serve(t, s, http.MethodPost, path)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}

	rec := serve(t, s, http.MethodGet, "/api/v1/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPanicRecovery(t *testing.T) {
	s := New(createTestConfig(), nil, nil, logging.NewNop(), nil)
	s.GetRouter().HandleFunc("/boom", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := serve(t, s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPeerEndpointUpgradesThroughMiddleware(t *testing.T) {
	upgraded := make(chan struct{})
	peer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		close(upgraded)
		_ = conn.Close()
	})

	cfg := createTestConfig()
	s := New(cfg, peer, nil, logging.NewNop(), nil)
	ts := httptest.NewServer(s.GetRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Transport.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer conn.Close()

	select {
	case <-upgraded:
	case <-time.After(time.Second):
		t.Fatal("peer handler did not upgrade")
	}
}

func TestServerStartStop(t *testing.T) {
	s := New(createTestConfig(), nil, nil, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := New(createTestConfig(), nil, nil, logging.NewNop(), nil)

	rec := serve(t, s, http.MethodGet, "/api/v1/liveness")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPeerEndpointRateLimited(t *testing.T) {
	peer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "pairing key required", http.StatusUnauthorized)
	})
	cfg := createTestConfig()
	s := New(cfg, peer, nil, logging.NewNop(), nil)

	for i := 0; i < peerConnectBurst; i++ {
		rec := serve(t, s, http.MethodGet, cfg.Transport.Path)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
	rec := serve(t, s, http.MethodGet, cfg.Transport.Path)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = serve(t, s, http.MethodGet, "/api/v1/liveness")
	assert.Equal(t, http.StatusOK, rec.Code, "only the peer endpoint is throttled")
}
