package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire constants
const (
	SyncByte    = 0xFF // Marks an envelope start and an inner frame start
	VersionByte = 0xFE // Protocol version tag following the inner sync byte

	EnvelopeHeaderSize = 4 // sync + robot_id + length(2)
	InnerHeaderSize    = 7 // sync + version + msg_len(2) + checksum_1 + topic(2)
	InnerFooterSize    = 1 // checksum_2
	InnerOverhead      = InnerHeaderSize + InnerFooterSize

	// MaxPayloadSize keeps the envelope length field (msg_len + 8) representable.
	MaxPayloadSize = 0xFFFF - InnerOverhead

	lengthChecksumOffset = 4
)

// Envelope is one robot-addressed transmission unit as delimited by the
// StreamReader. Payload holds the raw inner frame bytes.
type Envelope struct {
	RobotID uint8
	Payload []byte
}

// String returns a debug representation of the envelope
func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{robot=%d, len=%d}", e.RobotID, len(e.Payload))
}

// InnerFrame is a validated, topic-addressed frame extracted from an envelope.
type InnerFrame struct {
	Topic   Topic
	Payload []byte
}

// String returns a debug representation of the frame
func (f InnerFrame) String() string {
	return fmt.Sprintf("InnerFrame{topic=%s, payload=%d bytes}", f.Topic, len(f.Payload))
}

// BuildInnerFrame wraps payload into a checksummed inner frame.
//
// Frame Structure:
//
//	[0]     0xFF           Sync byte
//	[1]     0xFE           Version byte
//	[2-3]   msg_len        Payload length (little-endian uint16)
//	[4]     checksum_1     Checksum over bytes 2-3
//	[5-6]   topic          Topic id (little-endian uint16)
//	[7+]    payload        msg_len bytes
//	[N]     checksum_2     Checksum over topic bytes + payload
func BuildInnerFrame(topic Topic, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, frameErr(ErrValueTooLarge, -1, 0, 0,
			fmt.Sprintf("payload is %d bytes (max %d)", len(payload), MaxPayloadSize))
	}
	frame := make([]byte, len(payload)+InnerOverhead)
	putInnerFrame(frame, topic, payload)
	return frame, nil
}

// BuildEnvelope wraps a topic and payload into a complete envelope ready for
// the byte sink: the 4-byte envelope header followed by the inner frame.
//
// The only failure is ErrValueTooLarge when len(payload) > MaxPayloadSize.
func BuildEnvelope(topic Topic, robotID uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, frameErr(ErrValueTooLarge, -1, 0, 0,
			fmt.Sprintf("payload is %d bytes (max %d)", len(payload), MaxPayloadSize))
	}
	innerLen := len(payload) + InnerOverhead
	pkt := make([]byte, EnvelopeHeaderSize+innerLen)
	pkt[0] = SyncByte
	pkt[1] = robotID
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(innerLen))
	putInnerFrame(pkt[EnvelopeHeaderSize:], topic, payload)
	return pkt, nil
}

// WrapInnerFrame prefixes an already-encoded inner frame with an envelope header.
func WrapInnerFrame(robotID uint8, inner []byte) ([]byte, error) {
	if len(inner) > 0xFFFF {
		return nil, frameErr(ErrValueTooLarge, -1, 0, 0,
			fmt.Sprintf("inner frame is %d bytes (max %d)", len(inner), 0xFFFF))
	}
	pkt := make([]byte, EnvelopeHeaderSize+len(inner))
	pkt[0] = SyncByte
	pkt[1] = robotID
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(len(inner)))
	copy(pkt[EnvelopeHeaderSize:], inner)
	return pkt, nil
}

// putInnerFrame writes the inner frame into dst, which must be exactly
// len(payload)+InnerOverhead bytes long.
func putInnerFrame(dst []byte, topic Topic, payload []byte) {
	dst[0] = SyncByte
	dst[1] = VersionByte
	binary.LittleEndian.PutUint16(dst[2:4], uint16(len(payload)))
	dst[4] = Checksum(dst[2:4])
	binary.LittleEndian.PutUint16(dst[5:7], uint16(topic))
	copy(dst[InnerHeaderSize:], payload)
	dst[len(dst)-1] = Checksum(dst[5:7], payload)
}

// ParseInnerFrame validates an inner frame and returns its topic and payload.
//
// Validation order:
//   - At least InnerOverhead bytes (ErrTruncatedFrame)
//   - Sync 0xFF and version 0xFE (ErrBadSyncOrVersion)
//   - checksum_1 over msg_len (ErrChecksumMismatch)
//   - msg_len fits inside data (ErrTruncatedFrame)
//   - checksum_2 over topic + payload (ErrChecksumMismatch)
//
// Any failure means the caller should drop the frame; none is fatal to the stream.
// Bytes after checksum_2 are ignored. The returned payload aliases data.
func ParseInnerFrame(data []byte) (InnerFrame, error) {
	if len(data) < InnerOverhead {
		return InnerFrame{}, frameErr(ErrTruncatedFrame, -1, 0, 0,
			fmt.Sprintf("%d bytes (minimum %d)", len(data), InnerOverhead))
	}
	if data[0] != SyncByte {
		return InnerFrame{}, frameErr(ErrBadSyncOrVersion, 0, SyncByte, uint64(data[0]), "sync")
	}
	if data[1] != VersionByte {
		return InnerFrame{}, frameErr(ErrBadSyncOrVersion, 1, VersionByte, uint64(data[1]), "version")
	}

	if want := Checksum(data[2:4]); data[lengthChecksumOffset] != want {
		return InnerFrame{}, frameErr(ErrChecksumMismatch, lengthChecksumOffset, uint64(want), uint64(data[lengthChecksumOffset]), "length checksum")
	}
	msgLen := int(binary.LittleEndian.Uint16(data[2:4]))

	end := InnerHeaderSize + msgLen
	if len(data) < end+InnerFooterSize {
		return InnerFrame{}, frameErr(ErrTruncatedFrame, -1, 0, 0,
			fmt.Sprintf("declared payload %d bytes, frame holds %d", msgLen, len(data)-InnerOverhead))
	}

	payload := data[InnerHeaderSize:end]
	if want := Checksum(data[5:7], payload); data[end] != want {
		return InnerFrame{}, frameErr(ErrChecksumMismatch, end, uint64(want), uint64(data[end]), "topic/payload checksum")
	}

	return InnerFrame{
		Topic:   Topic(binary.LittleEndian.Uint16(data[5:7])),
		Payload: payload,
	}, nil
}

// ValidateEnvelope checks a complete outbound envelope before it is written.
// Useful for testing and for the relay, which forwards frames it did not build.
func ValidateEnvelope(pkt []byte) error {
	if len(pkt) < EnvelopeHeaderSize {
		return frameErr(ErrTruncatedFrame, -1, 0, 0,
			fmt.Sprintf("envelope is %d bytes (minimum %d)", len(pkt), EnvelopeHeaderSize))
	}
	if pkt[0] != SyncByte {
		return frameErr(ErrBadSyncOrVersion, 0, SyncByte, uint64(pkt[0]), "envelope sync")
	}
	length := int(binary.LittleEndian.Uint16(pkt[2:4]))
	if len(pkt) != EnvelopeHeaderSize+length {
		return frameErr(ErrTruncatedFrame, -1, 0, 0,
			fmt.Sprintf("envelope declares %d bytes, holds %d", length, len(pkt)-EnvelopeHeaderSize))
	}
	_, err := ParseInnerFrame(pkt[EnvelopeHeaderSize:])
	return err
}
