// Package config loads and validates netstick configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/netstick/internal/errors"
	"github.com/anstrom/netstick/internal/logging"
)

// Config represents the complete device configuration
type Config struct {
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Protocol  ProtocolConfig  `yaml:"protocol" json:"protocol"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`
	PortScan  PortScanConfig  `yaml:"portscan" json:"portscan"`
	Analyze   AnalyzeConfig   `yaml:"analyze" json:"analyze"`
	WiFi      WiFiConfig      `yaml:"wifi" json:"wifi"`
	Status    StatusConfig    `yaml:"status" json:"status"`
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Logging   logging.Config  `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

// TransportConfig holds settings for the peer-facing endpoint
type TransportConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// Path of the command channel endpoint
	Path string `yaml:"path" json:"path"`

	// MTU assumed when the peer does not negotiate one
	DefaultMTU int `yaml:"default_mtu" json:"default_mtu"`

	// Delay between fragments of one outbound message
	ChunkDelay time.Duration `yaml:"chunk_delay" json:"chunk_delay"`

	// bcrypt hash of the pairing key; empty disables pairing
	PairingKeyHash string `yaml:"pairing_key_hash" json:"pairing_key_hash"`

	// Largest single inbound chunk accepted from the peer. Kept above the
	// protocol buffer so oversized commands reach the channel's overflow rule.
	ReadLimit int64 `yaml:"read_limit" json:"read_limit"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ProtocolConfig holds command channel limits
type ProtocolConfig struct {
	// Allocated size of the inbound assembly buffer
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// The buffer is discarded once it grows past BufferSize-OverflowMargin
	OverflowMargin int `yaml:"overflow_margin" json:"overflow_margin"`

	// Per-field caps applied before escaping
	Limits FieldLimits `yaml:"limits" json:"limits"`

	// Stream port_result instead of port_raw for port_scan
	LegacyPortResults bool `yaml:"legacy_port_results" json:"legacy_port_results"`

	// Commands waiting behind the running one
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// FieldLimits caps user-supplied strings embedded in responses
type FieldLimits struct {
	Vendor  int `yaml:"vendor" json:"vendor"`
	Banner  int `yaml:"banner" json:"banner"`
	Version int `yaml:"version" json:"version"`
	Error   int `yaml:"error" json:"error"`
	SSID    int `yaml:"ssid" json:"ssid"`
	Service int `yaml:"service" json:"service"`
}

// DiscoveryConfig holds host discovery settings
type DiscoveryConfig struct {
	// Liveness resolver: kernel or pcap
	Resolver string `yaml:"resolver" json:"resolver"`

	// Interface used by the pcap resolver
	Interface string `yaml:"interface" json:"interface"`

	// Per-attempt resolution timeout
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// Total resolution attempts per address
	Attempts int `yaml:"attempts" json:"attempts"`

	// Hosts recorded per scan
	MaxHosts int `yaml:"max_hosts" json:"max_hosts"`

	// Largest subnet enumerated, in host addresses
	MaxAddresses int `yaml:"max_addresses" json:"max_addresses"`
}

// PortScanConfig holds port probe settings
type PortScanConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	BannerTimeout  time.Duration `yaml:"banner_timeout" json:"banner_timeout"`
	BannerSize     int           `yaml:"banner_size" json:"banner_size"`
	MaxResults     int           `yaml:"max_results" json:"max_results"`
	PortDelay      time.Duration `yaml:"port_delay" json:"port_delay"`
	HTTPProbePorts []int         `yaml:"http_probe_ports" json:"http_probe_ports"`
	DefaultStart   int           `yaml:"default_start" json:"default_start"`
	DefaultEnd     int           `yaml:"default_end" json:"default_end"`
}

// AnalyzeConfig holds settings for the analyze command
type AnalyzeConfig struct {
	// DNS server for PTR lookups; the gateway is used when empty
	DNSServer     string        `yaml:"dns_server" json:"dns_server"`
	DNSTimeout    time.Duration `yaml:"dns_timeout" json:"dns_timeout"`
	SNMPCommunity string        `yaml:"snmp_community" json:"snmp_community"`
	SNMPTimeout   time.Duration `yaml:"snmp_timeout" json:"snmp_timeout"`
}

// WiFiConfig holds settings for the WiFi adapter
type WiFiConfig struct {
	// Adapter driver: nmcli or interface
	Driver         string        `yaml:"driver" json:"driver"`
	Interface      string        `yaml:"interface" json:"interface"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// StatusConfig holds settings for the periodic status push
type StatusConfig struct {
	// Cron spec; empty disables the push
	Interval string `yaml:"interval" json:"interval"`

	// sysfs battery directory; empty reports a fixed full battery
	BatteryPath string `yaml:"battery_path" json:"battery_path"`
}

// DisplayConfig holds settings for the local console display
type DisplayConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Output  string `yaml:"output" json:"output"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			ListenAddr:      "0.0.0.0",
			Port:            8642,
			Path:            "/nus",
			DefaultMTU:      185,
			ChunkDelay:      30 * time.Millisecond,
			ReadLimit:       4096,
			ShutdownTimeout: 10 * time.Second,
		},
		Protocol: ProtocolConfig{
			BufferSize:     512,
			OverflowMargin: 100,
			Limits: FieldLimits{
				Vendor:  63,
				Banner:  255,
				Version: 127,
				Error:   127,
				SSID:    31,
				Service: 15,
			},
			LegacyPortResults: false,
			QueueSize:         4,
		},
		Discovery: DiscoveryConfig{
			Resolver:     "kernel",
			Interface:    "wlan0",
			ProbeTimeout: 100 * time.Millisecond,
			Attempts:     2,
			MaxHosts:     96,
			MaxAddresses: 65534,
		},
		PortScan: PortScanConfig{
			ConnectTimeout: 2 * time.Second,
			BannerTimeout:  1 * time.Second,
			BannerSize:     256,
			MaxResults:     100,
			PortDelay:      5 * time.Millisecond,
			HTTPProbePorts: []int{80, 8080, 8000, 8008, 3000},
			DefaultStart:   20,
			DefaultEnd:     1000,
		},
		Analyze: AnalyzeConfig{
			DNSTimeout:    2 * time.Second,
			SNMPCommunity: "public",
			SNMPTimeout:   2 * time.Second,
		},
		WiFi: WiFiConfig{
			Driver:         "nmcli",
			Interface:      "wlan0",
			ConnectTimeout: 15 * time.Second,
		},
		Status: StatusConfig{
			Interval: "@every 30s",
		},
		Display: DisplayConfig{
			Enabled: true,
			Output:  "stderr",
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		return config, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so both extensions go through the same decoder.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse config "+filepath.Base(path), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
		return errors.NewConfigFieldError(errors.CodeValidation, "transport port must be between 1 and 65535", "transport.port", c.Transport.Port)
	}
	if c.Transport.Path == "" || c.Transport.Path[0] != '/' {
		return errors.NewConfigFieldError(errors.CodeValidation, "transport path must start with '/'", "transport.path", c.Transport.Path)
	}
	if c.Transport.DefaultMTU < 23 {
		return errors.NewConfigFieldError(errors.CodeValidation, "transport default MTU must be at least 23", "transport.default_mtu", c.Transport.DefaultMTU)
	}
	if c.Transport.ChunkDelay < 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "transport chunk delay must not be negative", "transport.chunk_delay", c.Transport.ChunkDelay)
	}

	if c.Protocol.BufferSize <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "protocol buffer size must be positive", "protocol.buffer_size", c.Protocol.BufferSize)
	}
	if c.Protocol.OverflowMargin < 0 || c.Protocol.OverflowMargin >= c.Protocol.BufferSize {
		return errors.NewConfigFieldError(errors.CodeValidation, "protocol overflow margin must be within the buffer size", "protocol.overflow_margin", c.Protocol.OverflowMargin)
	}
	if c.Transport.ReadLimit > 0 && c.Transport.ReadLimit <= int64(c.Protocol.BufferSize) {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"transport read limit must exceed the protocol buffer size", "transport.read_limit", c.Transport.ReadLimit)
	}
	if c.Protocol.QueueSize <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "protocol queue size must be positive", "protocol.queue_size", c.Protocol.QueueSize)
	}
	limits := map[string]int{
		"vendor":  c.Protocol.Limits.Vendor,
		"banner":  c.Protocol.Limits.Banner,
		"version": c.Protocol.Limits.Version,
		"error":   c.Protocol.Limits.Error,
		"ssid":    c.Protocol.Limits.SSID,
		"service": c.Protocol.Limits.Service,
	}
	for name, v := range limits {
		if v <= 0 {
			return errors.NewConfigFieldError(errors.CodeValidation, "protocol limits must be positive", "protocol.limits."+name, v)
		}
	}

	validResolvers := map[string]bool{
		"kernel": true,
		"pcap":   true,
	}
	if !validResolvers[c.Discovery.Resolver] {
		return errors.ErrConfigInvalid("discovery.resolver", c.Discovery.Resolver)
	}
	if c.Discovery.Attempts <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "discovery attempts must be positive", "discovery.attempts", c.Discovery.Attempts)
	}
	if c.Discovery.ProbeTimeout <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "discovery probe timeout must be positive", "discovery.probe_timeout", c.Discovery.ProbeTimeout)
	}
	if c.Discovery.MaxHosts <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "discovery limits must be positive", "discovery.max_hosts", c.Discovery.MaxHosts)
	}
	if c.Discovery.MaxAddresses <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "discovery limits must be positive", "discovery.max_addresses", c.Discovery.MaxAddresses)
	}

	if c.PortScan.ConnectTimeout <= 0 || c.PortScan.BannerTimeout <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "port scan timeouts must be positive", "portscan.connect_timeout", c.PortScan.ConnectTimeout)
	}
	if c.PortScan.BannerSize <= 0 || c.PortScan.MaxResults <= 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "port scan limits must be positive", "portscan.banner_size", c.PortScan.BannerSize)
	}
	if c.PortScan.DefaultStart < 1 || c.PortScan.DefaultEnd > 65535 || c.PortScan.DefaultStart > c.PortScan.DefaultEnd {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid default port range %d-%d", c.PortScan.DefaultStart, c.PortScan.DefaultEnd),
			"portscan.default_start", c.PortScan.DefaultStart)
	}
	for _, p := range c.PortScan.HTTPProbePorts {
		if p < 1 || p > 65535 {
			return errors.ErrConfigInvalid("portscan.http_probe_ports", p)
		}
	}

	if c.Analyze.DNSServer != "" {
		if _, _, err := net.SplitHostPort(c.Analyze.DNSServer); err != nil && net.ParseIP(c.Analyze.DNSServer) == nil {
			return errors.ErrConfigInvalid("analyze.dns_server", c.Analyze.DNSServer)
		}
	}

	validDrivers := map[string]bool{
		"nmcli":     true,
		"interface": true,
	}
	if !validDrivers[c.WiFi.Driver] {
		return errors.ErrConfigInvalid("wifi.driver", c.WiFi.Driver)
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// GetTransportAddress returns the full listen address
func (c *Config) GetTransportAddress() string {
	return net.JoinHostPort(c.Transport.ListenAddr, strconv.Itoa(c.Transport.Port))
}

// OverflowThreshold returns the assembly buffer length past which input is discarded.
func (c *Config) OverflowThreshold() int {
	return c.Protocol.BufferSize - c.Protocol.OverflowMargin
}
