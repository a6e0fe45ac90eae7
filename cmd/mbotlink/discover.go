package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbotlink/mbotlink/internal/discovery"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
)

var (
	discoverTimeout time.Duration
	discoverNoMDNS  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find link controllers and relays",
	Long: `List local serial ports, marking those whose USB VID:PID matches a supported
link controller, then browse the network for relays advertising
` + discovery.ServiceType + ` over mDNS.`,
	Example: `  # Find everything within the default timeout
  mbotlink discover

  # Only list serial ports
  mbotlink discover --no-mdns`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "scan-timeout", discovery.DefaultScanTimeout, "How long to browse for relays")
	discoverCmd.Flags().BoolVar(&discoverNoMDNS, "no-mdns", false, "Skip the network scan")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	ui.PrintCommandHeader("Discover", "mbotlink discover", map[string]string{
		"Scan timeout": discoverTimeout.String(),
	})

	ports, err := transport.ListPorts()
	if err != nil {
		ui.PrintWarning("Serial enumeration failed", map[string]string{"Error": err.Error()})
	}
	fmt.Println(ui.HeaderParamKeyStyle.Render("Serial ports"))
	fmt.Println(ui.FormatPorts(ports))
	fmt.Println()

	if discoverNoMDNS {
		return nil
	}

	fmt.Println(ui.MutedStyle.Render("  browsing for relays..."))
	links, err := discovery.Scan(ctx, discoverTimeout)
	if err != nil {
		ui.PrintFailure("mDNS scan failed", err, []string{
			"Check that multicast traffic is allowed on this network",
			"Relays must be started with --advertise",
		})
		return err
	}
	fmt.Println(ui.HeaderParamKeyStyle.Render("Relays"))
	fmt.Println(ui.FormatLinks(links))

	if len(links) > 0 {
		fmt.Println()
		fmt.Println(ui.MutedStyle.Render("  connect with: mbotlink monitor --tcp " + links[0].Address()))
	}
	return nil
}
