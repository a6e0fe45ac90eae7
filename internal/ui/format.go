package ui

import (
	"fmt"
	"strings"

	"github.com/mbotlink/mbotlink/internal/discovery"
	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
)

// FormatMessage renders one decoded message as a single monitor line.
func FormatMessage(robot string, msg protocol.Message) string {
	return FormatMessageOn(robot, msg.Topic(), msg)
}

// FormatMessageOn is FormatMessage for a message received on topic, which
// differs from msg.Topic() for shared layouts such as a Twist2D on
// robot_velocity.
func FormatMessageOn(robot string, topic protocol.Topic, msg protocol.Message) string {
	name := TopicStyle.Render(topic.String())
	if _, ok := msg.(*protocol.UnknownMessage); ok {
		name = UnknownStyle.Render(fmt.Sprintf("topic %d", uint16(topic)))
	}
	return RobotStyle.Render(fmt.Sprintf("[%s]", robot)) + " " + name + " " + ValueStyle.Render(describe(msg))
}

func describe(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Pose2D:
		return fmt.Sprintf("x=%+.3f y=%+.3f theta=%+.3f  utime=%d", m.X, m.Y, m.Theta, m.Utime)
	case *protocol.Twist2D:
		return fmt.Sprintf("vx=%+.3f vy=%+.3f wz=%+.3f  utime=%d", m.VX, m.VY, m.WZ, m.Utime)
	case *protocol.Timestamp:
		return fmt.Sprintf("utime=%d", m.Utime)
	case *protocol.LidarScan:
		return describeScan(m)
	case *protocol.IMU:
		return fmt.Sprintf("roll=%+.3f pitch=%+.3f yaw=%+.3f gz=%+.3f  utime=%d",
			m.AnglesRPY[0], m.AnglesRPY[1], m.AnglesRPY[2], m.Gyro[2], m.Utime)
	case *protocol.Encoders:
		return fmt.Sprintf("ticks=%v delta=%v/%dus  utime=%d", m.Ticks, m.DeltaTicks, m.DeltaTime, m.Utime)
	case *protocol.MotorPWM:
		return fmt.Sprintf("pwm=[%+.2f %+.2f %+.2f]  utime=%d", m.PWM[0], m.PWM[1], m.PWM[2], m.Utime)
	case *protocol.MotorVelocity:
		return fmt.Sprintf("vel=[%+.2f %+.2f %+.2f]  utime=%d", m.Velocity[0], m.Velocity[1], m.Velocity[2], m.Utime)
	case *protocol.UnknownMessage:
		return fmt.Sprintf("%d bytes", len(m.Data))
	default:
		return fmt.Sprint(msg)
	}
}

// describeScan summarises a scan as its valid sample count and the nearest return.
func describeScan(m *protocol.LidarScan) string {
	valid := m.Valid()
	if valid == 0 {
		return fmt.Sprintf("no returns  utime=%d", m.Utime)
	}
	nearest, at := uint16(0), 0
	for deg, r := range m.Ranges {
		if r != 0 && (nearest == 0 || r < nearest) {
			nearest, at = r, deg
		}
	}
	return fmt.Sprintf("%d/%d valid, nearest %dmm @ %d°  utime=%d",
		valid, protocol.LidarRanges, nearest, at, m.Utime)
}

// FormatCounters renders the dispatcher and reader statistics as a detail map.
func FormatCounters(c dispatch.Counters, s protocol.ReaderStats) map[string]string {
	return map[string]string{
		"Envelopes":     fmt.Sprint(c.Envelopes),
		"Decoded":       fmt.Sprint(c.Decoded),
		"Discarded":     fmt.Sprint(c.Discarded),
		"Unknown":       fmt.Sprint(c.Unknown),
		"Timeouts":      fmt.Sprint(c.Timeouts),
		"Bytes read":    fmt.Sprint(s.BytesRead),
		"Bytes skipped": fmt.Sprint(s.BytesSkipped),
		"Resyncs":       fmt.Sprint(s.Resyncs),
	}
}

// FormatPorts renders a serial port listing, marking supported controllers.
func FormatPorts(ports []transport.PortInfo) string {
	if len(ports) == 0 {
		return MutedStyle.Render("  no serial ports found")
	}
	lines := make([]string, 0, len(ports))
	for _, p := range ports {
		marker := MutedStyle.Render(DiscardMarker)
		if p.Known {
			marker = SuccessTitleStyle.Render(SuccessMarker)
		}
		line := fmt.Sprintf("  %s %s", marker, ValueStyle.Render(p.Name))
		var extra []string
		if p.VIDPID != "" {
			extra = append(extra, p.VIDPID)
		}
		if p.Product != "" {
			extra = append(extra, p.Product)
		}
		if p.Serial != "" {
			extra = append(extra, "sn "+p.Serial)
		}
		if len(extra) > 0 {
			line += "  " + MutedStyle.Render(strings.Join(extra, ", "))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// FormatLinks renders relays found by mDNS.
func FormatLinks(links []*discovery.Link) string {
	if len(links) == 0 {
		return MutedStyle.Render("  no relays found")
	}
	lines := make([]string, 0, len(links))
	for _, l := range links {
		line := fmt.Sprintf("  %s %s  %s", SuccessTitleStyle.Render(SuccessMarker),
			ValueStyle.Render(l.Name), MutedStyle.Render(l.Address()))
		if v := l.GetText("version"); v != "" {
			line += MutedStyle.Render("  v" + v)
		}
		if r := l.GetText("robots"); r != "" {
			line += MutedStyle.Render("  robots=" + r)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
