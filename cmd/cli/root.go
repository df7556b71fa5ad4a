// Package cli provides the netstick command-line interface: the device
// service itself and local tools that drive the scan engines without a peer.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/netstick/internal/config"
	"github.com/anstrom/netstick/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netstick",
	Short: "Pocket network reconnaissance device",
	Long: `netstick turns a small WiFi-capable board into a remotely operated network
scanner. A paired client sends JSON commands over the peer channel and the
device streams back WiFi, host and port scan results.`,
	Version: getVersion(),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// overridable lists the configuration keys that flags and NETSTICK_*
// environment variables may override.
var overridable = []string{
	"transport.listen_addr",
	"transport.port",
	"transport.pairing_key_hash",
	"discovery.resolver",
	"discovery.interface",
	"wifi.driver",
	"wifi.interface",
	"logging.level",
	"logging.format",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// bindFlags binds command flags to configuration keys so a changed flag
// takes precedence over the file and the environment.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind --%s flag: %v\n", name, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("NETSTICK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// loadConfig loads the YAML configuration and applies flag and environment
// overrides on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	for _, key := range overridable {
		if !viper.IsSet(key) {
			continue
		}
		switch key {
		case "transport.listen_addr":
			cfg.Transport.ListenAddr = viper.GetString(key)
		case "transport.port":
			cfg.Transport.Port = viper.GetInt(key)
		case "transport.pairing_key_hash":
			cfg.Transport.PairingKeyHash = viper.GetString(key)
		case "discovery.resolver":
			cfg.Discovery.Resolver = viper.GetString(key)
		case "discovery.interface":
			cfg.Discovery.Interface = viper.GetString(key)
		case "wifi.driver":
			cfg.WiFi.Driver = viper.GetString(key)
		case "wifi.interface":
			cfg.WiFi.Interface = viper.GetString(key)
		case "logging.level":
			cfg.Logging.Level = logging.LogLevel(viper.GetString(key))
		case "logging.format":
			cfg.Logging.Format = logging.LogFormat(viper.GetString(key))
		}
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		fmt.Fprintf(os.Stderr, "Warning: failed to load configuration: %v\n", err)
		return
	}

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
