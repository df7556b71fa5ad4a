package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netstick/internal/analyze"
	"github.com/anstrom/netstick/internal/api"
	"github.com/anstrom/netstick/internal/channel"
	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/coordinator"
	"github.com/anstrom/netstick/internal/discovery"
	"github.com/anstrom/netstick/internal/display"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
	"github.com/anstrom/netstick/internal/portscan"
	"github.com/anstrom/netstick/internal/transport"
	"github.com/anstrom/netstick/internal/wifi"
)

const metricsUpdateInterval = 15 * time.Second

// serveCmd runs the device service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device service",
	Long: `Run the netstick device service in the foreground.

The service accepts one paired peer on the command channel endpoint, runs the
WiFi, discovery and port scan engines on its behalf and exposes health,
status and metrics endpoints on the same listener.`,
	Example: `  netstick serve
  netstick serve --config /etc/netstick/config.yaml
  netstick serve --host 0.0.0.0 --port 8642`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "listen address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	bindFlags(serveCmd.Flags(), map[string]string{
		"host": "transport.listen_addr",
		"port": "transport.port",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.Default().WithComponent("serve")
	api.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.PrometheusMetrics
	if cfg.Metrics.Enabled {
		m = metrics.NewPrometheusMetrics()
		go m.StartPeriodicUpdates(ctx, metricsUpdateInterval)
	}

	dev, err := buildDevice(cfg, logger, m)
	if err != nil {
		return err
	}
	if err := dev.coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	logger.Info("Device ready",
		"address", dev.http.GetAddress(),
		"peer_path", cfg.Transport.Path,
		"wifi_driver", cfg.WiFi.Driver,
		"resolver", cfg.Discovery.Resolver,
		"pairing", cfg.Transport.PairingKeyHash != "")

	serveErr := dev.http.Start(ctx)

	if err := dev.peer.Close(); err != nil {
		logger.Warn("Failed to drop peer", "error", err)
	}
	if err := dev.coord.Stop(); err != nil {
		logger.Warn("Coordinator shutdown error", "error", err)
	}
	logger.Info("Device stopped")
	return serveErr
}

// device is the wired service graph.
type device struct {
	peer  *transport.Server
	coord *coordinator.Coordinator
	http  *api.Server
}

func buildDevice(cfg *config.Config, logger *logging.Logger, m *metrics.PrometheusMetrics) (*device, error) {
	adapter, err := wifi.New(cfg.WiFi)
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi adapter: %w", err)
	}

	resolver, err := discovery.NewResolver(cfg.Discovery, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s resolver: %w", cfg.Discovery.Resolver, err)
	}
	hosts := discovery.NewEngine(discovery.ConfigFrom(cfg.Discovery), adapter, resolver, logger, m)
	ports := portscan.NewEngine(portscan.ConfigFrom(cfg.PortScan), adapter, logger, m)
	analyzer := analyze.New(cfg.Analyze, ports, adapter, logger)

	screen, err := display.New(cfg.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to open display: %w", err)
	}

	peer := transport.NewServer(transport.ConfigFrom(cfg.Transport), logger, m)
	ch := channel.New(channel.ConfigFrom(cfg), peer, logger, m)
	coord := coordinator.New(coordinator.ConfigFrom(cfg), ch, coordinator.Deps{
		WiFi:     adapter,
		Hosts:    hosts,
		Ports:    ports,
		Analyzer: analyzer,
		Power:    coordinator.NewPowerSource(cfg.Status.BatteryPath),
		Display:  screen,
	}, logger, m)
	ch.SetHandler(coord)
	peer.Attach(ch)

	return &device{
		peer:  peer,
		coord: coord,
		http:  api.New(cfg, peer, coord, logger, m),
	}, nil
}

