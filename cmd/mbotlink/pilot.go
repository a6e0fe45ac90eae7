package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/pilot"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/teleop"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
)

// Pilot command flags
var (
	pilotRobot     uint8
	pilotVX        float32
	pilotWZ        float32
	pilotSweep     bool
	pilotDuration  time.Duration
	pilotHeartbeat bool
	pilotKeyboard  bool
	pilotStep      float32
)

var pilotCmd = &cobra.Command{
	Use:   "pilot",
	Short: "Drive a robot with periodic velocity commands",
	Long: `Send velocity commands to one robot every pilot period.

--vx and --wz are stick values in [-1, 1], scaled by pilot.vx_scale and
pilot.wz_scale from the config. A command equal to the previous one is not
resent. On exit a stop command is sent if the robot was moving.

--sweep replaces the fixed command with a slow forward/backward oscillation
for exercising the drive train. --interactive steers from the keyboard
instead: arrow keys or WASD move the stick by --step, space stops and q
quits. Incoming odometry is read while driving and the final pose is
reported.`,
	Example: `  # Creep forward for 5 seconds
  mbotlink pilot --vx 0.5 --duration 5s

  # Spin robot 2 in place with a heartbeat
  mbotlink pilot --robot 2 --wz 1 --heartbeat

  # Sweep back and forth until Ctrl-C
  mbotlink pilot --sweep

  # Drive robot 1 from the keyboard
  mbotlink pilot --robot 1 --interactive`,
	RunE: runPilot,
}

func init() {
	f := pilotCmd.Flags()
	f.Uint8Var(&pilotRobot, "robot", 0, "Target robot id")
	f.Float32Var(&pilotVX, "vx", 0, "Forward stick value in [-1, 1]")
	f.Float32Var(&pilotWZ, "wz", 0, "Turn stick value in [-1, 1]")
	f.BoolVar(&pilotSweep, "sweep", false, "Oscillate forward and backward instead of a fixed command")
	f.DurationVar(&pilotDuration, "duration", 0, "Stop after this long (0 = until Ctrl-C)")
	f.BoolVar(&pilotHeartbeat, "heartbeat", false, "Also send time sync messages to the robot")
	f.BoolVarP(&pilotKeyboard, "interactive", "i", false, "Steer from the keyboard")
	f.Float32Var(&pilotStep, "step", 0.1, "Stick change per key press with --interactive")
	pilotCmd.MarkFlagsMutuallyExclusive("sweep", "interactive")
}

func runPilot(cmd *cobra.Command, args []string) error {
	if pilotVX < -1 || pilotVX > 1 || pilotWZ < -1 || pilotWZ > 1 {
		return fmt.Errorf("--vx and --wz must be within [-1, 1]")
	}
	if pilotKeyboard && !ui.IsTerminal(os.Stdin) {
		return fmt.Errorf("--interactive needs a terminal on stdin")
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	if pilotDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pilotDuration)
		defer cancel()
	}

	var source pilot.VelocitySource = pilot.Constant{VX: pilotVX, WZ: pilotWZ}
	mode := fmt.Sprintf("vx=%+.2f wz=%+.2f", pilotVX, pilotWZ)
	var stick *teleop.Stick
	switch {
	case pilotSweep:
		source = pilot.NewOscillator()
		mode = "sweep"
	case pilotKeyboard:
		stick = teleop.NewStick(pilotStep)
		source = stick
		mode = "keyboard"
	}

	params := linkParams(cfg.Link)
	params["Robot"] = cfg.RobotName(pilotRobot)
	params["Command"] = mode
	params["Period"] = cfg.Pilot.Period.String()
	ui.PrintCommandHeader("Pilot", "mbotlink pilot", params)

	link, err := openLink(ctx)
	if err != nil {
		ui.PrintFailure("Could not open link", err, linkHints())
		return err
	}
	defer link.Close()

	sender := transport.NewSender(link)
	p := pilot.New(sender, source, pilot.Options{
		RobotID: pilotRobot,
		Period:  cfg.Pilot.Period,
		VXScale: cfg.Pilot.VXScale,
		WZScale: cfg.Pilot.WZScale,
	})

	var prog *tea.Program
	if stick != nil {
		prog = tea.NewProgram(teleop.NewModel(cfg.RobotName(pilotRobot), stick), tea.WithContext(ctx))
	}

	// Drain the link so the controller never blocks on a full buffer, and
	// keep the latest odometry from the piloted robot.
	var pose dispatch.Latest[protocol.Pose2D]
	d := dispatch.New(newStreamReader(link), nil)
	d.Handle(protocol.TopicOdometry, func(dl dispatch.Delivery) error {
		if m, ok := dl.Message.(*protocol.Pose2D); ok && dl.RobotID == pilotRobot {
			pose.Set(*m)
			if prog != nil {
				prog.Send(teleop.PoseMsg(*m))
			}
		}
		return nil
	})
	readCtx, stopReading := context.WithCancel(context.Background())
	defer stopReading()
	go func() {
		if err := d.Run(readCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("Link reader stopped", zap.Error(err))
		}
	}()

	if pilotHeartbeat {
		hb := pilot.NewHeartbeat(sender, cfg.Heartbeat.Period, func() []uint8 { return []uint8{pilotRobot} })
		go func() {
			if err := hb.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Error("Heartbeat stopped", zap.Error(err))
			}
		}()
	}

	if prog != nil {
		err = runKeyboard(ctx, p, prog)
	} else {
		err = p.Run(ctx)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		ui.PrintFailure("Pilot stopped", err, linkHints())
		return err
	}

	details := map[string]string{
		"Commands sent": fmt.Sprint(p.Sent()),
		"Unchanged":     fmt.Sprint(p.Skipped()),
	}
	if last, ok := pose.Get(); ok {
		details["Final pose"] = fmt.Sprintf("x=%.3f y=%.3f theta=%.3f", last.X, last.Y, last.Theta)
	}
	cfg.TouchRobot(pilotRobot)
	saveConfig()
	ui.PrintSuccess("Pilot finished", details)
	return nil
}

// runKeyboard runs the pilot in the background for as long as the teleop
// program is in the foreground.
func runKeyboard(ctx context.Context, p *pilot.Pilot, prog *tea.Program) error {
	pilotCtx, stopPilot := context.WithCancel(ctx)
	defer stopPilot()
	pilotErr := make(chan error, 1)
	go func() { pilotErr <- p.Run(pilotCtx) }()

	_, uiErr := prog.Run()
	stopPilot()
	err := <-pilotErr
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("keyboard teleop: %w", uiErr)
	}
	return err
}
