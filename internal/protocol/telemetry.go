package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoded sizes of the robot telemetry messages
const (
	MotorCount        = 3
	IMUSize           = 8 + 4*17
	EncodersSize      = 8 + 8*MotorCount + 4*MotorCount + 4
	MotorPWMSize      = 8 + 4*MotorCount
	MotorVelocitySize = 8 + 4*MotorCount
)

// IMU is one inertial measurement sample.
type IMU struct {
	Utime      int64
	Gyro       [3]float32 // rad/s
	Accel      [3]float32 // m/s^2
	Mag        [3]float32
	AnglesRPY  [3]float32 // roll, pitch, yaw
	AnglesQuat [4]float32
	Temp       float32
}

func (m *IMU) Topic() Topic { return TopicIMU }
func (m *IMU) Size() int    { return IMUSize }

// MarshalBinary encodes utime(8) followed by gyro, accel, mag, rpy, quaternion
// and temperature as little-endian float32s.
func (m *IMU) MarshalBinary() ([]byte, error) {
	buf := make([]byte, IMUSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Utime))
	off := putFloats(buf, 8, m.Gyro[:]...)
	off = putFloats(buf, off, m.Accel[:]...)
	off = putFloats(buf, off, m.Mag[:]...)
	off = putFloats(buf, off, m.AnglesRPY[:]...)
	off = putFloats(buf, off, m.AnglesQuat[:]...)
	putFloats(buf, off, m.Temp)
	return buf, nil
}

// UnmarshalBinary decodes the first IMUSize bytes of data.
func (m *IMU) UnmarshalBinary(data []byte) error {
	if len(data) < IMUSize {
		return shortBuffer("IMU", IMUSize, len(data))
	}
	m.Utime = int64(binary.LittleEndian.Uint64(data[0:8]))
	off := readFloats(data, 8, m.Gyro[:])
	off = readFloats(data, off, m.Accel[:])
	off = readFloats(data, off, m.Mag[:])
	off = readFloats(data, off, m.AnglesRPY[:])
	off = readFloats(data, off, m.AnglesQuat[:])
	m.Temp = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	return nil
}

func (m *IMU) String() string {
	return fmt.Sprintf("IMU{utime=%d, rpy=[%.3f %.3f %.3f], temp=%.1f}",
		m.Utime, m.AnglesRPY[0], m.AnglesRPY[1], m.AnglesRPY[2], m.Temp)
}

// Encoders carries the wheel encoder counts. The same layout is used to
// reset the counters on TopicEncodersReset.
type Encoders struct {
	Utime      int64
	Ticks      [MotorCount]int64
	DeltaTicks [MotorCount]int32
	DeltaTime  int32 // microseconds covered by DeltaTicks
}

func (m *Encoders) Topic() Topic { return TopicEncoders }
func (m *Encoders) Size() int    { return EncodersSize }

// MarshalBinary encodes utime(8) ticks(3x8) delta_ticks(3x4) delta_time(4), little-endian.
func (m *Encoders) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EncodersSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.Utime))
	for i, t := range m.Ticks {
		binary.LittleEndian.PutUint64(buf[8+8*i:], uint64(t))
	}
	for i, d := range m.DeltaTicks {
		binary.LittleEndian.PutUint32(buf[32+4*i:], uint32(d))
	}
	binary.LittleEndian.PutUint32(buf[44:48], uint32(m.DeltaTime))
	return buf, nil
}

// UnmarshalBinary decodes the first EncodersSize bytes of data.
func (m *Encoders) UnmarshalBinary(data []byte) error {
	if len(data) < EncodersSize {
		return shortBuffer("Encoders", EncodersSize, len(data))
	}
	m.Utime = int64(binary.LittleEndian.Uint64(data[0:8]))
	for i := range m.Ticks {
		m.Ticks[i] = int64(binary.LittleEndian.Uint64(data[8+8*i:]))
	}
	for i := range m.DeltaTicks {
		m.DeltaTicks[i] = int32(binary.LittleEndian.Uint32(data[32+4*i:]))
	}
	m.DeltaTime = int32(binary.LittleEndian.Uint32(data[44:48]))
	return nil
}

func (m *Encoders) String() string {
	return fmt.Sprintf("Encoders{utime=%d, ticks=%v, delta=%v in %dus}", m.Utime, m.Ticks, m.DeltaTicks, m.DeltaTime)
}

// MotorPWM holds one duty cycle per motor in [-1, 1]. It is reported on
// TopicMotorPWM and commanded on TopicMotorPWMCmd.
type MotorPWM struct {
	Utime int64
	PWM   [MotorCount]float32
}

func (m *MotorPWM) Topic() Topic { return TopicMotorPWM }
func (m *MotorPWM) Size() int    { return MotorPWMSize }

func (m *MotorPWM) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MotorPWMSize)
	putStamped3(buf, m.Utime, m.PWM[0], m.PWM[1], m.PWM[2])
	return buf, nil
}

func (m *MotorPWM) UnmarshalBinary(data []byte) error {
	if len(data) < MotorPWMSize {
		return shortBuffer("MotorPWM", MotorPWMSize, len(data))
	}
	m.Utime, m.PWM[0], m.PWM[1], m.PWM[2] = stamped3(data)
	return nil
}

func (m *MotorPWM) String() string {
	return fmt.Sprintf("MotorPWM{utime=%d, pwm=[%.3f %.3f %.3f]}", m.Utime, m.PWM[0], m.PWM[1], m.PWM[2])
}

// MotorVelocity holds one wheel speed per motor in rad/s. It is reported on
// TopicMotorVelocity and commanded on TopicMotorVelocityCmd.
type MotorVelocity struct {
	Utime    int64
	Velocity [MotorCount]float32
}

func (m *MotorVelocity) Topic() Topic { return TopicMotorVelocity }
func (m *MotorVelocity) Size() int    { return MotorVelocitySize }

func (m *MotorVelocity) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MotorVelocitySize)
	putStamped3(buf, m.Utime, m.Velocity[0], m.Velocity[1], m.Velocity[2])
	return buf, nil
}

func (m *MotorVelocity) UnmarshalBinary(data []byte) error {
	if len(data) < MotorVelocitySize {
		return shortBuffer("MotorVelocity", MotorVelocitySize, len(data))
	}
	m.Utime, m.Velocity[0], m.Velocity[1], m.Velocity[2] = stamped3(data)
	return nil
}

func (m *MotorVelocity) String() string {
	return fmt.Sprintf("MotorVelocity{utime=%d, vel=[%.3f %.3f %.3f]}",
		m.Utime, m.Velocity[0], m.Velocity[1], m.Velocity[2])
}

func putFloats(buf []byte, off int, vals ...float32) int {
	for _, v := range vals {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
		off += 4
	}
	return off
}

func readFloats(data []byte, off int, dst []float32) int {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	return off
}
