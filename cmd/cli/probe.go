package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netstick/internal/display"
	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/portscan"
	"github.com/anstrom/netstick/internal/scanning"
)

const maxPort = 65535

// Probe command flags.
var (
	probePorts    string
	probeStart    int
	probeEnd      int
	probeOS       bool
	probeVersions bool
	probeQuiet    bool
)

// probeCmd runs the port probe engine against one host from the local shell.
var probeCmd = &cobra.Command{
	Use:   "probe [target]",
	Short: "Probe TCP ports on one host",
	Long: `Probe TCP ports on one host with the device's port scan engine and print
the open ports with their service, version and banner.

Without --ports the inclusive range --start..--end is probed.`,
	Example: `  netstick probe 192.168.1.10
  netstick probe 192.168.1.10 --ports 22,80-443
  netstick probe 192.168.1.10 --start 1 --end 1024 --os --versions`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probePorts, "ports", "p", "", "ports to probe (e.g., '22,80-443')")
	probeCmd.Flags().IntVar(&probeStart, "start", 0, "first port of the range (default from config)")
	probeCmd.Flags().IntVar(&probeEnd, "end", 0, "last port of the range (default from config)")
	probeCmd.Flags().BoolVar(&probeOS, "os", false, "guess the target operating system")
	probeCmd.Flags().BoolVar(&probeVersions, "versions", false, "extract service versions from banners")
	probeCmd.Flags().BoolVarP(&probeQuiet, "quiet", "q", false, "suppress progress output")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	target := args[0]
	if net.ParseIP(target) == nil {
		return fmt.Errorf("invalid target %q: an IPv4 address is required", target)
	}

	var ports []int
	if probePorts != "" {
		ports, err = parsePorts(probePorts)
	} else {
		ports, err = rangePorts(probeStart, probeEnd, cfg.PortScan.DefaultStart, cfg.PortScan.DefaultEnd)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := portscan.NewEngine(portscan.ConfigFrom(cfg.PortScan), nil, logging.Default(), nil)
	session := scanning.NewSession(scanning.StagePortScan)
	go func() {
		<-ctx.Done()
		session.Cancel()
	}()

	var progress scanning.ProgressSink
	if !probeQuiet {
		progress = display.NewConsole(os.Stderr)
	}

	result, err := engine.Scan(context.WithoutCancel(ctx), session, portscan.Request{
		Target:  target,
		Ports:   ports,
		Options: portscan.Options{ServiceVersion: probeVersions, OSDetect: probeOS},
	}, nil, progress)
	if result == nil {
		return err
	}

	printProbeResult(cmd.OutOrStdout(), result, probeOS)
	return scanOutcome(session, target, err)
}

// scanOutcome is the command's result after the partial or complete results
// were printed. An interrupted run exits non-zero.
func scanOutcome(session *scanning.Session, target string, err error) error {
	if err != nil {
		return fmt.Errorf("scan of %s stopped early: %w", target, err)
	}
	if session.Cancelled() {
		return errors.ErrScanCanceled(target)
	}
	return nil
}

func printProbeResult(w io.Writer, result *portscan.Result, showOS bool) {
	if len(result.Open) == 0 {
		fmt.Fprintf(w, "No open ports found on %s (%d scanned).\n", result.Target, result.Scanned)
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("PORT", "SERVICE", "VERSION", "BANNER")
	for _, p := range result.Open {
		_ = table.Append([]string{
			strconv.Itoa(p.Port),
			p.Service,
			p.Version,
			truncateString(p.Banner, 40),
		})
	}
	_ = table.Render()

	fmt.Fprintf(w, "\n%d open of %d scanned on %s\n", result.Found, result.Scanned, result.Target)
	if showOS {
		fmt.Fprintf(w, "OS: %s\n", result.OS)
	}
}

// parsePorts expands a list such as "22,80-443,8080" into sorted, unique
// port numbers.
func parsePorts(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty port specification")
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid port range: %s", part)
			}
			start, err := parsePort(rangeParts[0])
			if err != nil {
				return nil, fmt.Errorf("invalid start port in range: %s", rangeParts[0])
			}
			end, err := parsePort(rangeParts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid end port in range: %s", rangeParts[1])
			}
			if start > end {
				return nil, fmt.Errorf("start port cannot be greater than end port: %s", part)
			}
			for p := start; p <= end; p++ {
				seen[p] = true
			}
			continue
		}

		port, err := parsePort(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		seen[port] = true
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("empty port specification")
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if port < 1 || port > maxPort {
		return 0, fmt.Errorf("port out of range: %d", port)
	}
	return port, nil
}

// rangePorts resolves the --start/--end flags against the configured
// defaults.
func rangePorts(start, end, defStart, defEnd int) ([]int, error) {
	if start == 0 {
		start = defStart
	}
	if end == 0 {
		end = defEnd
	}
	r := scanning.PortRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r.Ports(), nil
}

// truncateString truncates a string to the specified length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
