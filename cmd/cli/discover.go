package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netstick/internal/discovery"
	"github.com/anstrom/netstick/internal/display"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/scanning"
	"github.com/anstrom/netstick/internal/wifi"
)

var (
	discoverInterface string
	discoverResolver  string
	discoverQuiet     bool
)

// discoverCmd sweeps the subnet the WiFi station is attached to.
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep the attached subnet for live hosts",
	Long: `Sweep every address of the subnet the WiFi station is attached to and
print each host that answers the link-layer probe with its hardware address
and vendor.

The kernel resolver needs no privileges. The pcap resolver sends raw ARP
requests and needs CAP_NET_RAW.`,
	Example: `  netstick discover
  netstick discover --interface wlan0
  netstick discover --resolver pcap`,
	Args: cobra.NoArgs,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVarP(&discoverInterface, "interface", "i", "", "network interface (overrides config)")
	discoverCmd.Flags().StringVar(&discoverResolver, "resolver", "", "liveness resolver: kernel or pcap")
	discoverCmd.Flags().BoolVarP(&discoverQuiet, "quiet", "q", false, "suppress progress output")
}

// hostCollector keeps discovered hosts in sweep order.
type hostCollector struct {
	hosts []scanning.Host
}

func (c *hostCollector) HostFound(h scanning.Host) {
	c.hosts = append(c.hosts, h)
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if discoverInterface != "" {
		cfg.Discovery.Interface = discoverInterface
		cfg.WiFi.Interface = discoverInterface
	}
	if discoverResolver != "" {
		cfg.Discovery.Resolver = discoverResolver
	}

	adapter, err := wifi.New(cfg.WiFi)
	if err != nil {
		return fmt.Errorf("failed to create wifi adapter: %w", err)
	}
	if !adapter.IsConnected() {
		return fmt.Errorf("%s is not connected to a network", cfg.WiFi.Interface)
	}

	resolver, err := discovery.NewResolver(cfg.Discovery, adapter)
	if err != nil {
		return fmt.Errorf("failed to create %s resolver: %w", cfg.Discovery.Resolver, err)
	}
	engine := discovery.NewEngine(discovery.ConfigFrom(cfg.Discovery), adapter, resolver, logging.Default(), nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	session := scanning.NewSession(scanning.StageNetworkScan)
	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	var progress scanning.ProgressSink
	if !discoverQuiet {
		progress = display.NewConsole(os.Stderr)
	}

	collector := &hostCollector{}
	count, err := engine.Discover(context.WithoutCancel(ctx), session, collector, progress)
	printHosts(cmd.OutOrStdout(), collector.hosts, count)
	return scanOutcome(session, cfg.Discovery.Interface, err)
}

func printHosts(w io.Writer, hosts []scanning.Host, count int) {
	if len(hosts) == 0 {
		fmt.Fprintln(w, "No hosts found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("IP", "MAC", "VENDOR")
	for _, h := range hosts {
		_ = table.Append([]string{h.IP, h.MAC, h.Vendor})
	}
	_ = table.Render()
	fmt.Fprintf(w, "\n%d hosts found\n", count)
}
