package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
	"github.com/mbotlink/mbotlink/internal/ui"
)

// Send command flags
var (
	sendRobot    uint8
	sendVX       float32
	sendVY       float32
	sendWZ       float32
	sendX        float32
	sendY        float32
	sendTheta    float32
	sendMotors   []float32
	sendRepeat   int
	sendInterval time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <kind>",
	Short: "Send a single command to a robot",
	Long: `Encode one message into an envelope and write it to the link.

  twist           velocity command on topic 214 (--vx, --vy, --wz)
  odometry-reset  reset the robot's odometry to a pose on topic 211 (--x, --y, --theta)
  timesync        current host time on topic 201
  motor-pwm       per-motor duty cycles in [-1, 1] on topic 230 (--motors)
  motor-velocity  per-motor wheel speeds in rad/s on topic 231 (--motors)
  encoders-reset  zero the wheel encoder counts on topic 222

Values are sent as given, without the pilot's scaling.`,
	Example: `  # Drive robot 1 forward at 0.2 m/s
  mbotlink send twist --robot 1 --vx 0.2

  # Stop robot 0
  mbotlink send twist

  # Reset odometry to the origin
  mbotlink send odometry-reset

  # Spin the left and right motors at half duty
  mbotlink send motor-pwm --motors 0.5,-0.5,0`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"twist", "odometry-reset", "timesync", "motor-pwm", "motor-velocity", "encoders-reset"},
	RunE:      runSend,
}

func init() {
	f := sendCmd.Flags()
	f.Uint8Var(&sendRobot, "robot", 0, "Target robot id")
	f.Float32Var(&sendVX, "vx", 0, "Forward velocity in m/s")
	f.Float32Var(&sendVY, "vy", 0, "Lateral velocity in m/s")
	f.Float32Var(&sendWZ, "wz", 0, "Angular velocity in rad/s")
	f.Float32Var(&sendX, "x", 0, "Pose x in m")
	f.Float32Var(&sendY, "y", 0, "Pose y in m")
	f.Float32Var(&sendTheta, "theta", 0, "Pose heading in rad")
	f.Float32SliceVar(&sendMotors, "motors", nil, "Per-motor values for motor-pwm and motor-velocity (up to 3)")
	f.IntVar(&sendRepeat, "repeat", 1, "Number of times to send")
	f.DurationVar(&sendInterval, "interval", 100*time.Millisecond, "Delay between repeats")
}

// buildCommand returns the topic and message for a send kind.
func buildCommand(kind string, now time.Time) (protocol.Topic, protocol.Message, error) {
	utime := now.UnixMicro()
	switch kind {
	case "twist":
		return protocol.TopicVelocityCmd, &protocol.Twist2D{Utime: utime, VX: sendVX, VY: sendVY, WZ: sendWZ}, nil
	case "odometry-reset":
		return protocol.TopicOdometryReset, &protocol.Pose2D{Utime: utime, X: sendX, Y: sendY, Theta: sendTheta}, nil
	case "timesync":
		return protocol.TopicTimeSync, &protocol.Timestamp{Utime: utime}, nil
	case "motor-pwm":
		pwm, err := motorValues()
		if err != nil {
			return 0, nil, err
		}
		for _, v := range pwm {
			if v < -1 || v > 1 {
				return 0, nil, fmt.Errorf("--motors duty cycles must be within [-1, 1]")
			}
		}
		return protocol.TopicMotorPWMCmd, &protocol.MotorPWM{Utime: utime, PWM: pwm}, nil
	case "motor-velocity":
		vel, err := motorValues()
		if err != nil {
			return 0, nil, err
		}
		return protocol.TopicMotorVelocityCmd, &protocol.MotorVelocity{Utime: utime, Velocity: vel}, nil
	case "encoders-reset":
		return protocol.TopicEncodersReset, &protocol.Encoders{Utime: utime}, nil
	default:
		return 0, nil, fmt.Errorf("unknown message kind %q (want one of twist, odometry-reset, timesync, motor-pwm, motor-velocity, encoders-reset)", kind)
	}
}

// motorValues spreads --motors over the motor slots; missing ones are zero.
func motorValues() ([protocol.MotorCount]float32, error) {
	var out [protocol.MotorCount]float32
	if len(sendMotors) > protocol.MotorCount {
		return out, fmt.Errorf("--motors takes at most %d values, got %d", protocol.MotorCount, len(sendMotors))
	}
	copy(out[:], sendMotors)
	return out, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	kind := args[0]
	if _, _, err := buildCommand(kind, time.Now()); err != nil {
		return err
	}
	if sendRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	params := linkParams(cfg.Link)
	params["Robot"] = cfg.RobotName(sendRobot)
	params["Message"] = kind
	ui.PrintCommandHeader("Send", "mbotlink send "+kind, params)

	link, err := openLink(ctx)
	if err != nil {
		ui.PrintFailure("Could not open link", err, linkHints())
		return err
	}
	defer link.Close()

	sender := transport.NewSender(link)
	var last protocol.Message
	for i := 0; i < sendRepeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sendInterval):
			}
		}
		topic, msg, _ := buildCommand(kind, time.Now())
		if err := sender.SendOn(topic, sendRobot, msg); err != nil {
			ui.PrintFailure("Send failed", err, linkHints())
			return err
		}
		last = msg
	}

	ui.PrintSuccess("Sent", map[string]string{
		"Robot":   cfg.RobotName(sendRobot),
		"Message": last.String(),
		"Count":   fmt.Sprint(sendRepeat),
	})
	return nil
}
