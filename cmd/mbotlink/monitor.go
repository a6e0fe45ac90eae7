package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbotlink/mbotlink/internal/bridge"
	"github.com/mbotlink/mbotlink/internal/capture"
	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/pilot"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
)

// Monitor command flags
var (
	replayPath    string
	captureFlag   bool
	bridgeAddr    string
	heartbeatFlag bool
	quietFlag     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and print link traffic",
	Long: `Read envelopes from the link, decode them and print one line per message.

Corrupt or misaligned frames are skipped and counted; the monitor keeps
reading from the next frame. A summary of the counters is printed on exit.

With --capture every received envelope is written to a JSONL capture file,
which --replay can later decode without hardware.`,
	Example: `  # Monitor the auto-detected link controller
  mbotlink monitor

  # Monitor a relay and keep robots in sync with a heartbeat
  mbotlink monitor --tcp 192.168.1.20:5005 --heartbeat

  # Record a session and publish it to WebSocket clients
  mbotlink monitor --capture --bridge 127.0.0.1:8765

  # Decode a previous capture
  mbotlink monitor --replay ~/.config/mbotlink/captures/capture-20260101-120000.jsonl`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&replayPath, "replay", "", "Decode a capture file instead of opening the link")
	monitorCmd.Flags().BoolVar(&captureFlag, "capture", false, "Record received envelopes to a JSONL capture file")
	monitorCmd.Flags().StringVar(&bridgeAddr, "bridge", "", "Also publish decoded messages on a WebSocket server at this address")
	monitorCmd.Flags().BoolVar(&heartbeatFlag, "heartbeat", false, "Send time sync messages to every robot seen")
	monitorCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Only print the summary")
}

// robotSet tracks the robot ids seen on the link.
type robotSet struct {
	mu  sync.Mutex
	ids map[uint8]bool
}

func newRobotSet() *robotSet {
	return &robotSet{ids: make(map[uint8]bool)}
}

// Add records id and reports whether it is new.
func (s *robotSet) Add(id uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false
	}
	s.ids[id] = true
	return true
}

// IDs returns the seen ids in order.
func (s *robotSet) IDs() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint8, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Targets is IDs, or robot 0 while nothing has been heard yet.
func (s *robotSet) Targets() []uint8 {
	if ids := s.IDs(); len(ids) > 0 {
		return ids
	}
	return []uint8{0}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	params := linkParams(cfg.Link)
	if replayPath != "" {
		params = map[string]string{"Replay": replayPath}
	}
	ui.PrintCommandHeader("Link Monitor", "mbotlink monitor", params)

	var src io.Reader
	var link transport.Link
	if replayPath != "" {
		records, err := capture.Load(replayPath)
		if err != nil {
			ui.PrintFailure("Replay failed", err, nil)
			return err
		}
		if src, err = capture.Replay(records, capture.DirectionIn); err != nil {
			ui.PrintFailure("Replay failed", err, nil)
			return err
		}
	} else {
		var err error
		if link, err = openLink(ctx); err != nil {
			ui.PrintFailure("Could not open link", err, linkHints())
			return err
		}
		defer link.Close()
		src = link
	}

	reader := newStreamReader(src)
	d := dispatch.New(reader, nil)
	robots := newRobotSet()
	var lastPose dispatch.Latest[protocol.Pose2D]

	var publish dispatch.HandlerFunc
	if bridgeAddr != "" {
		hub := bridge.NewHub(0)
		publish = hub.Handler()
		srv := bridge.NewServer(bridgeAddr, hub)
		go func() {
			if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("Bridge stopped", zap.Error(err))
			}
		}()
	}

	show := func(dl dispatch.Delivery) error {
		if robots.Add(dl.RobotID) {
			logging.Info("Robot seen", zap.Uint8("robot_id", dl.RobotID))
		}
		if pose, ok := dl.Message.(*protocol.Pose2D); ok && dl.Topic == protocol.TopicOdometry {
			lastPose.Set(*pose)
		}
		if !quietFlag {
			fmt.Println(ui.FormatMessageOn(cfg.RobotName(dl.RobotID), dl.Topic, dl.Message))
		}
		if publish != nil {
			return publish(dl)
		}
		return nil
	}
	d.HandleAll(show)
	d.OnUnknown(show)

	if (captureFlag || cfg.Capture.Enabled) && link != nil {
		rec, err := openRecorder()
		if err != nil {
			ui.PrintFailure("Capture failed", err, nil)
			return err
		}
		defer rec.Close()
		d.OnEnvelope(func(env protocol.Envelope) {
			if err := rec.Record(capture.DirectionIn, env, nil, nil); err != nil {
				logging.Warn("Capture write failed", zap.Error(err))
			}
		})
		fmt.Println(ui.MutedStyle.Render("  capturing to " + rec.Path()))
	}

	if heartbeatFlag && link != nil {
		hb := pilot.NewHeartbeat(transport.NewSender(link), cfg.Heartbeat.Period, robots.Targets)
		go func() {
			if err := hb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error("Heartbeat stopped", zap.Error(err))
			}
		}()
	}

	err := d.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		err = nil
	case replayPath != "" && errors.Is(err, protocol.ErrSourceClosed):
		err = nil
	}

	summary := ui.FormatCounters(d.Counters(), reader.Stats())
	summary["Robots"] = fmt.Sprint(len(robots.IDs()))
	if pose, ok := lastPose.Get(); ok {
		summary["Last pose"] = fmt.Sprintf("x=%.3f y=%.3f theta=%.3f", pose.X, pose.Y, pose.Theta)
	}

	if replayPath == "" {
		for _, id := range robots.IDs() {
			cfg.TouchRobot(id)
		}
		saveConfig()
	}

	if err != nil {
		ui.PrintFailure("Link lost", err, linkHints())
		return err
	}
	ui.PrintSuccess("Monitor stopped", summary)
	return nil
}

func openRecorder() (*capture.Recorder, error) {
	dir, err := cfg.CaptureDir()
	if err != nil {
		return nil, err
	}
	return capture.NewRecorder(dir)
}
