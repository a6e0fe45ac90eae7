package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoded sizes of the fixed-layout messages
const (
	Pose2DSize    = 20
	Twist2DSize   = 20
	TimestampSize = 8
	LidarRanges   = 360
	LidarScanSize = 8 + 2*LidarRanges
)

// Message is a decoded, topic-specific payload.
type Message interface {
	Topic() Topic
	Size() int
	MarshalBinary() ([]byte, error)
	String() string
}

// Pose2D is a planar pose estimate (odometry).
type Pose2D struct {
	Utime int64 // Microsecond timestamp
	X     float32
	Y     float32
	Theta float32
}

func (m *Pose2D) Topic() Topic { return TopicOdometry }
func (m *Pose2D) Size() int    { return Pose2DSize }

// MarshalBinary encodes the pose as utime(8) x(4) y(4) theta(4), little-endian.
func (m *Pose2D) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Pose2DSize)
	putStamped3(buf, m.Utime, m.X, m.Y, m.Theta)
	return buf, nil
}

// UnmarshalBinary decodes the first Pose2DSize bytes of data.
func (m *Pose2D) UnmarshalBinary(data []byte) error {
	if len(data) < Pose2DSize {
		return shortBuffer("Pose2D", Pose2DSize, len(data))
	}
	m.Utime, m.X, m.Y, m.Theta = stamped3(data)
	return nil
}

func (m *Pose2D) String() string {
	return fmt.Sprintf("Pose2D{utime=%d, x=%.3f, y=%.3f, theta=%.3f}", m.Utime, m.X, m.Y, m.Theta)
}

// Twist2D is a planar velocity command or estimate.
type Twist2D struct {
	Utime int64
	VX    float32 // m/s
	VY    float32 // m/s
	WZ    float32 // rad/s
}

func (m *Twist2D) Topic() Topic { return TopicVelocityCmd }
func (m *Twist2D) Size() int    { return Twist2DSize }

// MarshalBinary encodes the twist as utime(8) vx(4) vy(4) wz(4), little-endian.
func (m *Twist2D) MarshalBinary() ([]byte, error) {
	buf := make([]byte, Twist2DSize)
	putStamped3(buf, m.Utime, m.VX, m.VY, m.WZ)
	return buf, nil
}

// UnmarshalBinary decodes the first Twist2DSize bytes of data.
func (m *Twist2D) UnmarshalBinary(data []byte) error {
	if len(data) < Twist2DSize {
		return shortBuffer("Twist2D", Twist2DSize, len(data))
	}
	m.Utime, m.VX, m.VY, m.WZ = stamped3(data)
	return nil
}

func (m *Twist2D) String() string {
	return fmt.Sprintf("Twist2D{utime=%d, vx=%.3f, vy=%.3f, wz=%.3f}", m.Utime, m.VX, m.VY, m.WZ)
}

// LidarScan is one full revolution of range samples, one per degree.
type LidarScan struct {
	Utime  int64
	Ranges [LidarRanges]uint16 // millimetres, index = degree
}

func (m *LidarScan) Topic() Topic { return TopicLidarScan }
func (m *LidarScan) Size() int    { return LidarScanSize }

// MarshalBinary encodes utime(8) followed by 360 little-endian uint16 ranges.
func (m *LidarScan) MarshalBinary() ([]byte, error) {
	buf := make([]byte, LidarScanSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Utime))
	for i, r := range m.Ranges {
		binary.LittleEndian.PutUint16(buf[8+2*i:], r)
	}
	return buf, nil
}

// UnmarshalBinary decodes the first LidarScanSize bytes of data.
func (m *LidarScan) UnmarshalBinary(data []byte) error {
	if len(data) < LidarScanSize {
		return shortBuffer("LidarScan", LidarScanSize, len(data))
	}
	m.Utime = int64(binary.LittleEndian.Uint64(data[0:8]))
	for i := range m.Ranges {
		m.Ranges[i] = binary.LittleEndian.Uint16(data[8+2*i:])
	}
	return nil
}

// Valid returns the number of non-zero range samples.
func (m *LidarScan) Valid() int {
	n := 0
	for _, r := range m.Ranges {
		if r != 0 {
			n++
		}
	}
	return n
}

func (m *LidarScan) String() string {
	return fmt.Sprintf("LidarScan{utime=%d, valid=%d/%d}", m.Utime, m.Valid(), LidarRanges)
}

// Timestamp is the heartbeat / time sync message.
type Timestamp struct {
	Utime int64
}

func (m *Timestamp) Topic() Topic { return TopicTimeSync }
func (m *Timestamp) Size() int    { return TimestampSize }

func (m *Timestamp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TimestampSize)
	binary.LittleEndian.PutUint64(buf, uint64(m.Utime))
	return buf, nil
}

func (m *Timestamp) UnmarshalBinary(data []byte) error {
	if len(data) < TimestampSize {
		return shortBuffer("Timestamp", TimestampSize, len(data))
	}
	m.Utime = int64(binary.LittleEndian.Uint64(data[0:8]))
	return nil
}

func (m *Timestamp) String() string {
	return fmt.Sprintf("Timestamp{utime=%d}", m.Utime)
}

// UnknownMessage carries the raw payload of a topic missing from the registry.
type UnknownMessage struct {
	TopicID Topic
	Data    []byte
}

func (m *UnknownMessage) Topic() Topic { return m.TopicID }
func (m *UnknownMessage) Size() int    { return len(m.Data) }

func (m *UnknownMessage) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), m.Data...), nil
}

func (m *UnknownMessage) String() string {
	return fmt.Sprintf("Unknown{topic=%d, len=%d}", uint16(m.TopicID), len(m.Data))
}

func putStamped3(buf []byte, utime int64, a, b, c float32) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(utime))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(a))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(b))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(c))
}

func stamped3(data []byte) (int64, float32, float32, float32) {
	return int64(binary.LittleEndian.Uint64(data[0:8])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[8:12])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[12:16])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[16:20]))
}

func shortBuffer(name string, want, got int) error {
	return &FrameError{
		Err:    ErrShortBuffer,
		Offset: -1,
		Detail: fmt.Sprintf("%s needs %d bytes, got %d", name, want, got),
	}
}
