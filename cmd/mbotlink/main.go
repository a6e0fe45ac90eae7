// Mbotlink talks to MBot robots through a serial link controller or a TCP relay.
//
// It decodes the envelope/inner-frame wire protocol, prints what the robots
// report, sends velocity and time sync commands, and can relay robot TCP
// connections onto a host link.
//
// Usage:
//
//	mbotlink [command] [flags]
//
// See 'mbotlink --help' for available commands.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbotlink/mbotlink/internal/config"
	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
	"github.com/mbotlink/mbotlink/internal/version"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath  string
	logLevel    string
	portFlag    string
	baudFlag    int
	tcpFlag     string
	timeoutFlag time.Duration
	noColor     bool
)

// cfg is the loaded configuration with flag overrides applied.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mbotlink",
	Short: "MBot robot link utility",
	Long: `A command-line utility for the MBot robot link protocol.

Robots talk to the host through a USB link controller (serial) or a network
relay (TCP). mbotlink decodes odometry, lidar and time sync traffic, sends
velocity commands, relays robot connections and publishes a live WebSocket feed.

Settings are read from the config file and can be overridden by flags.`,
	Version:           version.Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default is <config dir>/mbotlink/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); empty = $MBOTLINK_LOG_LEVEL or silent")
	flags.StringVar(&portFlag, "port", "", "Serial device of the link controller (empty = auto-detect)")
	flags.IntVar(&baudFlag, "baud", transport.DefaultBaud, "Serial baud rate")
	flags.StringVar(&tcpFlag, "tcp", "", "Connect to a relay at host:port instead of a serial port")
	flags.DurationVar(&timeoutFlag, "timeout", 0, "Read timeout on the link (0 = config value)")
	flags.BoolVar(&noColor, "no-color", false, "Disable coloured output")

	rootCmd.AddCommand(monitorCmd, sendCmd, pilotCmd, relayCmd, bridgeCmd, discoverCmd, configCmd, versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialise logging: %w", err)
	}
	ui.ConfigureColor(os.Stdout, noColor)

	path, err := resolveConfigPath()
	if err != nil {
		return err
	}
	cfg, err = config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLinkFlags(cmd, cfg.Link)
	return nil
}

func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	path, err := config.GetConfigPath()
	if err != nil {
		return "", fmt.Errorf("failed to locate config file: %w", err)
	}
	return path, nil
}

// applyLinkFlags overrides file values with flags the user actually set.
func applyLinkFlags(cmd *cobra.Command, link *config.LinkConfig) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		link.Transport = string(transport.KindSerial)
		link.Port = portFlag
	}
	if flags.Changed("baud") {
		link.Baud = baudFlag
	}
	if flags.Changed("tcp") {
		link.Transport = string(transport.KindTCP)
		link.Address = tcpFlag
	}
	if flags.Changed("timeout") {
		link.ReadTimeout = timeoutFlag
	}
}

// openLink opens the configured host link.
func openLink(ctx context.Context) (transport.Link, error) {
	link, err := transport.Open(ctx, linkOptions(cfg.Link))
	if err != nil {
		return nil, err
	}
	logging.LogLinkEvent(fmt.Sprint(link), "opened")
	return link, nil
}

func linkOptions(l *config.LinkConfig) transport.Options {
	return transport.Options{
		Kind:        transport.Kind(l.Transport),
		Port:        l.Port,
		Baud:        l.Baud,
		Address:     l.Address,
		ReadTimeout: l.ReadTimeout,
	}
}

func linkParams(l *config.LinkConfig) map[string]string {
	if transport.Kind(l.Transport) == transport.KindTCP {
		return map[string]string{"Relay": l.Address}
	}
	port := l.Port
	if port == "" {
		port = "auto-detect"
	}
	return map[string]string{"Port": port, "Baud": fmt.Sprint(l.Baud)}
}

func newStreamReader(src io.Reader) *protocol.StreamReader {
	return protocol.NewStreamReader(src, protocol.WithMaxHunt(cfg.Link.MaxHunt))
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// saveConfig writes cfg back, logging rather than failing on error.
func saveConfig() {
	path, err := resolveConfigPath()
	if err != nil {
		logging.Warn("Config not saved", zap.Error(err))
		return
	}
	if err := cfg.Save(path); err != nil {
		logging.Warn("Config not saved", zap.Error(err))
	}
}

func linkHints() []string {
	return []string{
		"Check the link controller is plugged in ('mbotlink discover' lists ports)",
		"Pass --port explicitly or set link.port in the config file",
		"Use --tcp host:port to reach a relay instead",
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("mbotlink %s (commit: %s, %s, %s)\n", info.Version, info.Commit, info.GoVersion, info.Platform)
	},
}
