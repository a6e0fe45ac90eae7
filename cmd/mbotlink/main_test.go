package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbotlink/mbotlink/internal/config"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
)

func TestApplyLinkFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want config.LinkConfig
	}{
		{
			name: "no flags keeps file values",
			want: config.LinkConfig{Transport: "serial", Port: "/dev/ttyUSB1", Baud: 115200, ReadTimeout: time.Second},
		},
		{
			name: "tcp switches transport",
			args: []string{"--tcp", "relay.local:5006"},
			want: config.LinkConfig{Transport: "tcp", Port: "/dev/ttyUSB1", Baud: 115200, Address: "relay.local:5006", ReadTimeout: time.Second},
		},
		{
			name: "port and baud",
			args: []string{"--port", "/dev/ttyACM0", "--baud", "921600", "--timeout", "50ms"},
			want: config.LinkConfig{Transport: "serial", Port: "/dev/ttyACM0", Baud: 921600, ReadTimeout: 50 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
			cmd.Flags().StringVar(&portFlag, "port", "", "")
			cmd.Flags().IntVar(&baudFlag, "baud", transport.DefaultBaud, "")
			cmd.Flags().StringVar(&tcpFlag, "tcp", "", "")
			cmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "")
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}

			link := &config.LinkConfig{Transport: "serial", Port: "/dev/ttyUSB1", Baud: 115200, ReadTimeout: time.Second}
			applyLinkFlags(cmd, link)
			if *link != tt.want {
				t.Errorf("applyLinkFlags() = %+v, want %+v", *link, tt.want)
			}
		})
	}
}

func TestBuildCommand(t *testing.T) {
	now := time.UnixMicro(1_700_000_000_000_000)
	sendVX, sendWZ, sendX = 0.2, -1, 3
	sendMotors = []float32{0.5, -0.5}
	t.Cleanup(func() {
		sendVX, sendWZ, sendX = 0, 0, 0
		sendMotors = nil
	})

	tests := []struct {
		kind      string
		wantTopic protocol.Topic
		wantMsg   protocol.Message
	}{
		{"twist", protocol.TopicVelocityCmd, &protocol.Twist2D{Utime: now.UnixMicro(), VX: 0.2, WZ: -1}},
		{"odometry-reset", protocol.TopicOdometryReset, &protocol.Pose2D{Utime: now.UnixMicro(), X: 3}},
		{"timesync", protocol.TopicTimeSync, &protocol.Timestamp{Utime: now.UnixMicro()}},
		{"motor-pwm", protocol.TopicMotorPWMCmd, &protocol.MotorPWM{Utime: now.UnixMicro(), PWM: [3]float32{0.5, -0.5, 0}}},
		{"motor-velocity", protocol.TopicMotorVelocityCmd, &protocol.MotorVelocity{Utime: now.UnixMicro(), Velocity: [3]float32{0.5, -0.5, 0}}},
		{"encoders-reset", protocol.TopicEncodersReset, &protocol.Encoders{Utime: now.UnixMicro()}},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			topic, msg, err := buildCommand(tt.kind, now)
			if err != nil {
				t.Fatalf("buildCommand() error = %v", err)
			}
			if topic != tt.wantTopic {
				t.Errorf("topic = %v, want %v", topic, tt.wantTopic)
			}
			if !reflect.DeepEqual(msg, tt.wantMsg) {
				t.Errorf("msg = %v, want %v", msg, tt.wantMsg)
			}
		})
	}

	if _, _, err := buildCommand("lidar", now); err == nil {
		t.Error("buildCommand(lidar) error = nil, want error")
	}

	sendMotors = []float32{1, 1, 1, 1}
	if _, _, err := buildCommand("motor-velocity", now); err == nil {
		t.Error("buildCommand(motor-velocity) with 4 motors error = nil, want error")
	}
	sendMotors = []float32{1.5}
	if _, _, err := buildCommand("motor-pwm", now); err == nil {
		t.Error("buildCommand(motor-pwm) with duty 1.5 error = nil, want error")
	}
}

func TestRobotSet(t *testing.T) {
	s := newRobotSet()
	if got := s.Targets(); !reflect.DeepEqual(got, []uint8{0}) {
		t.Errorf("Targets() on empty set = %v, want [0]", got)
	}
	if len(s.IDs()) != 0 {
		t.Errorf("IDs() on empty set = %v", s.IDs())
	}

	for _, id := range []uint8{3, 1, 3} {
		s.Add(id)
	}
	if s.Add(1) {
		t.Error("Add(1) reported a repeat as new")
	}
	if got := s.IDs(); !reflect.DeepEqual(got, []uint8{1, 3}) {
		t.Errorf("IDs() = %v, want [1 3]", got)
	}
	if got := s.Targets(); !reflect.DeepEqual(got, []uint8{1, 3}) {
		t.Errorf("Targets() = %v, want [1 3]", got)
	}
}

func TestLinkParams(t *testing.T) {
	if got := linkParams(&config.LinkConfig{Transport: "tcp", Address: "r:1"}); got["Relay"] != "r:1" {
		t.Errorf("tcp params = %v", got)
	}
	if got := linkParams(&config.LinkConfig{Transport: "serial", Baud: 921600}); got["Port"] != "auto-detect" || got["Baud"] != "921600" {
		t.Errorf("serial params = %v", got)
	}
}
