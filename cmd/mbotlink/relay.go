package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbotlink/mbotlink/internal/discovery"
	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/pilot"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/relay"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
	"github.com/mbotlink/mbotlink/internal/version"
)

// Relay command flags
var (
	relayListen     string
	relayHostListen string
	relayMaxRobots  int
	relayAdvertise  bool
	relayHeartbeat  bool
	relayCapture    bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay robot TCP connections onto a host link",
	Long: `Accept robot connections over TCP and multiplex them onto one host link.

Each robot connection is given the next free robot id. Inner frames from a
robot are wrapped in envelopes addressed with its id and written to the host;
envelopes from the host are routed to the robot they address. Frames for
robots that are not connected are dropped.

The host link is the configured serial port, or with --host-listen a single
host connecting over TCP (for example 'mbotlink monitor --tcp'). That host
port can be advertised over mDNS so 'mbotlink discover' finds it.`,
	Example: `  # Relay robots onto the link controller's serial port
  mbotlink relay --port /dev/ttyACM0

  # Serve a networked host and advertise it
  mbotlink relay --host-listen :5006 --advertise

  # Keep robot clocks in sync and record all traffic
  mbotlink relay --host-listen :5006 --heartbeat --capture`,
	RunE: runRelay,
}

func init() {
	f := relayCmd.Flags()
	f.StringVar(&relayListen, "listen", "", "Address robots connect to (default relay.listen from config)")
	f.StringVar(&relayHostListen, "host-listen", "", "Accept the host over TCP at this address instead of using the serial link")
	f.IntVar(&relayMaxRobots, "max-robots", 0, "Number of robot ids to assign (default relay.max_robots from config)")
	f.BoolVar(&relayAdvertise, "advertise", false, "Advertise the host port over mDNS (requires --host-listen)")
	f.BoolVar(&relayHeartbeat, "heartbeat", false, "Send time sync messages to every connected robot")
	f.BoolVar(&relayCapture, "capture", false, "Record relayed envelopes to a JSONL capture file")
}

func runRelay(cmd *cobra.Command, args []string) error {
	rc := cfg.Relay
	if relayListen != "" {
		rc.Listen = relayListen
	}
	if relayMaxRobots > 0 {
		rc.MaxRobots = relayMaxRobots
	}
	advertise := relayAdvertise || rc.Advertise

	ctx, stop := signalContext(cmd)
	defer stop()

	params := map[string]string{
		"Robots on":  rc.Listen,
		"Max robots": strconv.Itoa(rc.MaxRobots),
	}
	if relayHostListen != "" {
		params["Host on"] = relayHostListen
	} else {
		for k, v := range linkParams(cfg.Link) {
			params["Host "+k] = v
		}
	}
	ui.PrintCommandHeader("Robot Relay", "mbotlink relay", params)

	host, err := openHost(ctx, advertise)
	if err != nil {
		ui.PrintFailure("Host link unavailable", err, linkHints())
		return err
	}
	defer host.Close()

	r := relay.New(relay.Config{
		Listen:      rc.Listen,
		MaxRobots:   rc.MaxRobots,
		ReadTimeout: cfg.Link.ReadTimeout,
	}, host)

	if relayCapture || cfg.Capture.Enabled {
		rec, err := openRecorder()
		if err != nil {
			ui.PrintFailure("Capture failed", err, nil)
			return err
		}
		defer rec.Close()
		r.SetTap(func(direction string, env protocol.Envelope) {
			if err := rec.Record(direction, env, nil, nil); err != nil {
				logging.Warn("Capture write failed", zap.Error(err))
			}
		})
		fmt.Println(ui.MutedStyle.Render("  capturing to " + rec.Path()))
	}

	if err := r.Listen(); err != nil {
		ui.PrintFailure("Relay failed", err, []string{"Is another relay already listening on " + rc.Listen + "?"})
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- r.Serve(ctx) }()

	if relayHeartbeat {
		hb := pilot.NewHeartbeat(r, cfg.Heartbeat.Period, r.Robots)
		go func() {
			if err := hb.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Error("Heartbeat stopped", zap.Error(err))
			}
		}()
	}

	err = r.ForwardFromHost(ctx, newStreamReader(host))
	stop()
	<-serveErr

	c := r.Counters()
	details := map[string]string{
		"Accepted":   fmt.Sprint(c.Accepted),
		"Rejected":   fmt.Sprint(c.Rejected),
		"Upstream":   fmt.Sprint(c.Upstream),
		"Downstream": fmt.Sprint(c.Downstream),
		"Dropped":    fmt.Sprint(c.Dropped),
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		ui.PrintFailure("Host link lost", err, nil)
		return err
	}
	ui.PrintSuccess("Relay stopped", details)
	return nil
}

// openHost returns the host side of the relay: the configured link, or the
// first host to connect on --host-listen.
func openHost(ctx context.Context, advertise bool) (transport.Link, error) {
	if relayHostListen == "" {
		if advertise {
			logging.Warn("mDNS advertisement needs --host-listen; not advertising")
		}
		return openLink(ctx)
	}

	ln, err := net.Listen("tcp", relayHostListen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for host on %s: %w", relayHostListen, err)
	}
	defer ln.Close()

	if advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(cfg.Relay.Name, port, version.Short(), cfg.Relay.MaxRobots)
		if err != nil {
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			go func() {
				<-ctx.Done()
				ad.Shutdown()
			}()
		}
	}

	fmt.Println(ui.MutedStyle.Render("  waiting for host on " + ln.Addr().String()))
	return acceptHost(ctx, ln)
}

// acceptHost waits for one connection on ln or for ctx to end.
func acceptHost(ctx context.Context, ln net.Listener) (transport.Link, error) {
	stopAccept := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stopAccept()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept host: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	logging.LogLinkEvent(conn.RemoteAddr().String(), "host connected")
	return transport.NewConnLink(conn, cfg.Link.ReadTimeout), nil
}
