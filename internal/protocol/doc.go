// Package protocol implements the robot link wire protocol.
//
// This package handles framing, checksumming, stream resynchronization and
// the typed message codecs used between a host computer and an embedded
// robot controller over a serial link (or a TCP relay).
//
// # Wire Format
//
// Every transmission is an envelope carrying exactly one inner frame.
// All multi-byte fields are little-endian:
//
//	Envelope:   [0xFF][robot_id:u8][length:u16][inner_frame: length bytes]
//	InnerFrame: [0xFF][0xFE][msg_len:u16][checksum1:u8][topic:u16][payload: msg_len bytes][checksum2:u8]
//	length == msg_len + 8
//
// checksum1 covers the two msg_len bytes; checksum2 covers the two topic
// bytes followed by the payload. Both use Checksum: 255 - (sum mod 256).
//
// # Topics
//
// The topic selects the payload codec:
//   - 201 timesync: Timestamp (8 bytes)
//   - 210 odometry, 211 odometry_reset: Pose2D (20 bytes)
//   - 214 velocity_cmd, 234 robot_velocity: Twist2D (20 bytes)
//   - 220 imu: IMU (76 bytes)
//   - 221 encoders, 222 encoders_reset: Encoders (48 bytes)
//   - 230 motor_pwm_cmd, 233 motor_pwm: MotorPWM (20 bytes)
//   - 231 motor_velocity_cmd, 232 motor_velocity: MotorVelocity (20 bytes)
//   - 240 lidar_scan: LidarScan (728 bytes)
//
// Unregistered topics are valid on the wire and decode to *UnknownMessage.
//
// # Usage Example - Reading
//
//	reader := protocol.NewStreamReader(port)
//	registry := protocol.DefaultRegistry()
//	for {
//	    env, err := reader.Next(ctx)
//	    if protocol.IsFatal(err) {
//	        return err
//	    }
//	    if err != nil {
//	        continue
//	    }
//	    frame, err := protocol.ParseInnerFrame(env.Payload)
//	    if err != nil {
//	        if protocol.NeedsRescan(err) {
//	            reader.Resync() // length was noise: scan its bytes again
//	        }
//	        continue
//	    }
//	    msg, err := registry.Decode(frame.Topic, frame.Payload)
//	    ...
//	}
//
// # Usage Example - Construction
//
//	pkt, err := protocol.Encode(robotID, &protocol.Twist2D{Utime: now, VX: 0.3})
//	if err != nil {
//	    return err
//	}
//	_, err = port.Write(pkt)
//
// # Resynchronization
//
// StreamReader keeps the bytes it has read but not yet returned and always
// searches forward for the next 0xFF. Noise between frames is skipped, short
// reads are accumulated, and a corrupted envelope is dropped by the caller
// without stalling the stream. Sync bytes inside payloads cannot be told apart
// from real frame starts at this layer, so recovery is probabilistic; the
// inner frame checksums are what reject false candidates.
//
// # Error Handling
//
// The package distinguishes between:
//   - Discard errors: ErrBadSyncOrVersion, ErrChecksumMismatch, ErrTruncatedFrame, ErrShortBuffer
//   - Retryable errors: ErrTimeout, ErrNoSyncFound
//   - Fatal errors: ErrSourceClosed, ErrSinkClosed
//   - Caller errors: ErrValueTooLarge
//
// # Thread Safety
//
// Frame building, parsing and the codecs are stateless and safe for concurrent
// use. A StreamReader or InnerReader owns its leftover buffer and must only be
// used from one goroutine.
package protocol
