package protocol

import (
	"encoding"
	"fmt"
	"sort"
)

// Topic selects which message codec applies to an inner frame payload.
type Topic uint16

// Known topics
const (
	TopicTimeSync         Topic = 201 // Timestamp
	TopicOdometry         Topic = 210 // Pose2D
	TopicOdometryReset    Topic = 211 // Pose2D
	TopicVelocityCmd      Topic = 214 // Twist2D
	TopicIMU              Topic = 220 // IMU
	TopicEncoders         Topic = 221 // Encoders
	TopicEncodersReset    Topic = 222 // Encoders
	TopicMotorPWMCmd      Topic = 230 // MotorPWM
	TopicMotorVelocityCmd Topic = 231 // MotorVelocity
	TopicMotorVelocity    Topic = 232 // MotorVelocity
	TopicMotorPWM         Topic = 233 // MotorPWM
	TopicRobotVelocity    Topic = 234 // Twist2D
	TopicLidarScan        Topic = 240 // LidarScan
)

// String returns a human-readable topic name
func (t Topic) String() string {
	switch t {
	case TopicTimeSync:
		return "timesync"
	case TopicOdometry:
		return "odometry"
	case TopicOdometryReset:
		return "odometry_reset"
	case TopicVelocityCmd:
		return "velocity_cmd"
	case TopicIMU:
		return "imu"
	case TopicEncoders:
		return "encoders"
	case TopicEncodersReset:
		return "encoders_reset"
	case TopicMotorPWMCmd:
		return "motor_pwm_cmd"
	case TopicMotorVelocityCmd:
		return "motor_velocity_cmd"
	case TopicMotorVelocity:
		return "motor_velocity"
	case TopicMotorPWM:
		return "motor_pwm"
	case TopicRobotVelocity:
		return "robot_velocity"
	case TopicLidarScan:
		return "lidar_scan"
	default:
		return fmt.Sprintf("topic(%d)", uint16(t))
	}
}

// DecodableMessage is a Message that can also be decoded from its payload.
type DecodableMessage interface {
	Message
	encoding.BinaryUnmarshaler
}

// Registry maps topic ids to message constructors. A topic that is not
// registered decodes to *UnknownMessage rather than an error.
type Registry struct {
	codecs map[Topic]func() DecodableMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[Topic]func() DecodableMessage)}
}

// DefaultRegistry returns the fixed robot topic table.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TopicTimeSync, func() DecodableMessage { return &Timestamp{} })
	r.Register(TopicOdometry, func() DecodableMessage { return &Pose2D{} })
	r.Register(TopicOdometryReset, func() DecodableMessage { return &Pose2D{} })
	r.Register(TopicVelocityCmd, func() DecodableMessage { return &Twist2D{} })
	r.Register(TopicIMU, func() DecodableMessage { return &IMU{} })
	r.Register(TopicEncoders, func() DecodableMessage { return &Encoders{} })
	r.Register(TopicEncodersReset, func() DecodableMessage { return &Encoders{} })
	r.Register(TopicMotorPWMCmd, func() DecodableMessage { return &MotorPWM{} })
	r.Register(TopicMotorVelocityCmd, func() DecodableMessage { return &MotorVelocity{} })
	r.Register(TopicMotorVelocity, func() DecodableMessage { return &MotorVelocity{} })
	r.Register(TopicMotorPWM, func() DecodableMessage { return &MotorPWM{} })
	r.Register(TopicRobotVelocity, func() DecodableMessage { return &Twist2D{} })
	r.Register(TopicLidarScan, func() DecodableMessage { return &LidarScan{} })
	return r
}

// Register binds topic to a message constructor, replacing any existing entry.
func (r *Registry) Register(topic Topic, newMsg func() DecodableMessage) {
	r.codecs[topic] = newMsg
}

// Known reports whether topic has a registered codec.
func (r *Registry) Known(topic Topic) bool {
	_, ok := r.codecs[topic]
	return ok
}

// Topics returns the registered topics in ascending order.
func (r *Registry) Topics() []Topic {
	topics := make([]Topic, 0, len(r.codecs))
	for t := range r.codecs {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Decode turns a payload into a typed message. Unregistered topics yield an
// *UnknownMessage holding a copy of the payload; a payload shorter than the
// codec's fixed size yields ErrShortBuffer.
func (r *Registry) Decode(topic Topic, payload []byte) (Message, error) {
	newMsg, ok := r.codecs[topic]
	if !ok {
		return &UnknownMessage{TopicID: topic, Data: append([]byte(nil), payload...)}, nil
	}
	msg := newMsg()
	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("decode %s: %w", topic, err)
	}
	return msg, nil
}

// Encode builds a complete envelope carrying msg on its own topic.
func Encode(robotID uint8, msg Message) ([]byte, error) {
	return EncodeOn(msg.Topic(), robotID, msg)
}

// EncodeOn builds an envelope carrying msg on an explicit topic, e.g. a Pose2D
// on TopicOdometryReset.
func EncodeOn(topic Topic, robotID uint8, msg Message) ([]byte, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", topic, err)
	}
	return BuildEnvelope(topic, robotID, payload)
}
