package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbotlink/mbotlink/internal/bridge"
	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/ui"
)

var bridgeListen string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Publish decoded link traffic to WebSocket clients",
	Long: `Read the link and publish every decoded message as JSON on ws://<listen>/ws.

Each event carries the robot id, topic number, topic name and the decoded
message fields. Clients that cannot keep up are disconnected rather than
slowing the link down. GET /healthz reports liveness.`,
	Example: `  # Serve on the configured address (bridge.listen)
  mbotlink bridge

  # Expose the feed to the local network from a relay
  mbotlink bridge --tcp relay.local:5006 --listen 0.0.0.0:8765`,
	RunE: runBridge,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", "", "HTTP listen address (default bridge.listen from config)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	addr := cfg.Bridge.Listen
	if bridgeListen != "" {
		addr = bridgeListen
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	params := linkParams(cfg.Link)
	params["Feed"] = "ws://" + addr + "/ws"
	ui.PrintCommandHeader("WebSocket Bridge", "mbotlink bridge", params)

	link, err := openLink(ctx)
	if err != nil {
		ui.PrintFailure("Could not open link", err, linkHints())
		return err
	}
	defer link.Close()

	hub := bridge.NewHub(0)
	reader := newStreamReader(link)
	d := dispatch.New(reader, nil)
	d.HandleAll(hub.Handler())
	d.OnUnknown(hub.Handler())

	srv := bridge.NewServer(addr, hub)
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Run(ctx)
		stop()
		serveErr <- err
	}()

	runErr := d.Run(ctx)
	stop()
	httpErr := <-serveErr

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if errors.Is(httpErr, context.Canceled) {
		httpErr = nil
	}
	if err := errors.Join(runErr, httpErr); err != nil {
		ui.PrintFailure("Bridge stopped", err, nil)
		return err
	}

	details := ui.FormatCounters(d.Counters(), reader.Stats())
	details["Dropped clients"] = fmt.Sprint(hub.Dropped())
	ui.PrintSuccess("Bridge stopped", details)
	return nil
}
