// Package api provides the device's HTTP surface: the peer command channel
// endpoint, health and status probes, and Prometheus metrics.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/netstick/internal/api/middleware"
	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/protocol"
)

// Server timeout constants.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second

	// Peer connection attempts allowed per client before throttling, and
	// the refill interval. Bounds pairing key guessing.
	peerConnectBurst    = 5
	peerConnectInterval = 10 * time.Second
)

const apiPrefix = "/api/v1"


// Version is reported by the version endpoint. It is set by the CLI.
var Version = "dev"

// StatusProvider produces the device status snapshot.
type StatusProvider interface {
	Snapshot() protocol.StatusReport
}

// Server represents the HTTP server.
type Server struct {
	httpServer      *http.Server
	router          *mux.Router
	status          StatusProvider
	logger          *logging.Logger
	metrics         *metrics.PrometheusMetrics
	startTime       time.Time
	shutdownTimeout time.Duration
}

// New creates the server. peer serves the command channel at the configured
// transport path.
func New(cfg *config.Config, peer http.Handler, status StatusProvider,
	logger *logging.Logger, m *metrics.PrometheusMetrics) *Server {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:          mux.NewRouter(),
		status:          status,
		logger:          logger.WithComponent("api"),
		metrics:         m,
		startTime:       time.Now(),
		shutdownTimeout: cfg.Transport.ShutdownTimeout,
	}

	s.setupRoutes(cfg, peer)
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Transport.ListenAddr, strconv.Itoa(cfg.Transport.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP server")

	timeout := s.shutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

func (s *Server) setupRoutes(cfg *config.Config, peer http.Handler) {
	if peer != nil {
		limiter := middleware.NewRateLimiter(peerConnectBurst, peerConnectInterval)
		s.router.Handle(cfg.Transport.Path, middleware.RateLimit(limiter, s.logger)(peer)).Methods("GET")
	}

	// Registered on the root router so a wrong method answers 405, not 404.
	s.router.HandleFunc(apiPrefix+"/liveness", s.livenessHandler).Methods("GET")
	s.router.HandleFunc(apiPrefix+"/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc(apiPrefix+"/status", s.statusHandler).Methods("GET")
	s.router.HandleFunc(apiPrefix+"/version", s.versionHandler).Methods("GET")

	if cfg.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods("GET")
	}

	s.router.HandleFunc("/", s.indexHandler).Methods("GET")
}

func (s *Server) setupMiddleware() {
	s.router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	))
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "netstick",
		"version": Version,
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"status":   "/api/v1/status",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

// healthHandler reports the peer link and WiFi association. The device is
// healthy without either; they are informational.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"peer": "not configured", "wifi": "not configured"}
	if s.status != nil {
		snap := s.status.Snapshot()
		checks["peer"] = connState(snap.BTConnected)
		checks["wifi"] = connState(snap.WiFiConnected)
		checks["operation"] = snap.Operation
	}

	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("status not available"))
		return
	}
	s.WriteJSON(w, r, http.StatusOK, s.status.Snapshot())
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"timestamp": time.Now().UTC(),
		"service":   "netstick",
	})
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("HTTP error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err,
		"remote_addr", r.RemoteAddr)

	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(r),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

func getRequestID(r *http.Request) string {
	if reqID := middleware.GetRequestID(r); reqID != "" {
		return reqID
	}
	return r.Header.Get(middleware.RequestIDHeader)
}

func connState(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetRequestID(r))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code. It
// passes Hijack through so the peer endpoint can upgrade.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// recoveryLogger adapts the structured logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in HTTP handler", "panic", fmt.Sprint(v...))
}
