package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the link protocol. Use errors.Is to test for them; most
// are returned wrapped in a *FrameError carrying the offending offset and values.
var (
	// ErrShortBuffer means a codec was handed fewer bytes than its fixed size.
	ErrShortBuffer = errors.New("protocol: short buffer")
	// ErrBadSyncOrVersion means an inner frame did not start with 0xFF 0xFE.
	ErrBadSyncOrVersion = errors.New("protocol: bad sync or version")
	// ErrChecksumMismatch means checksum_1 or checksum_2 did not verify.
	ErrChecksumMismatch = errors.New("protocol: checksum mismatch")
	// ErrTruncatedFrame means an inner frame is shorter than its header claims.
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
	// ErrValueTooLarge means an outbound payload cannot be described by the length field.
	ErrValueTooLarge = errors.New("protocol: value too large")
	// ErrSourceClosed means the byte source disconnected permanently.
	ErrSourceClosed = errors.New("protocol: source closed")
	// ErrSinkClosed means the byte sink refused or truncated a write.
	ErrSinkClosed = errors.New("protocol: sink closed")
	// ErrNoSyncFound means the reader discarded its whole hunt budget without seeing a sync byte.
	ErrNoSyncFound = errors.New("protocol: no sync byte found")
	// ErrTimeout means a read deadline expired before enough bytes arrived.
	ErrTimeout = errors.New("protocol: timeout")
)

// FrameError describes where in a frame validation failed.
type FrameError struct {
	Err    error  // One of the sentinel errors above
	Offset int    // Byte offset inside the frame (-1 when not applicable)
	Want   uint64 // Expected value
	Got    uint64 // Observed value
	Detail string // Free-form context
}

// Error implements the error interface
func (e *FrameError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" (offset %d: got 0x%02x, want 0x%02x)", e.Offset, e.Got, e.Want)
	}
	return msg
}

// Unwrap returns the sentinel error for errors.Is inspection
func (e *FrameError) Unwrap() error {
	return e.Err
}

func frameErr(sentinel error, offset int, want, got uint64, detail string) *FrameError {
	return &FrameError{Err: sentinel, Offset: offset, Want: want, Got: got, Detail: detail}
}

// IsFatal reports whether err ends the current connection.
// Only transport-level closure is fatal; framing problems never are.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceClosed) || errors.Is(err, ErrSinkClosed)
}

// IsRetryable reports whether the operation can simply be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNoSyncFound)
}

// IsDiscard reports whether err means "drop this frame and keep reading".
func IsDiscard(err error) bool {
	return errors.Is(err, ErrBadSyncOrVersion) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrTruncatedFrame) ||
		errors.Is(err, ErrShortBuffer)
}

// NeedsRescan reports whether a ParseInnerFrame failure means the enclosing
// envelope's length field was probably noise, so its bytes should be scanned
// again for the real frame start. That is the case when the inner header
// itself did not hold up: too short, wrong sync or version, or a length
// checksum that does not match. A payload checksum failure behind a valid
// header does not qualify.
func NeedsRescan(err error) bool {
	if errors.Is(err, ErrBadSyncOrVersion) || errors.Is(err, ErrTruncatedFrame) {
		return true
	}
	var fe *FrameError
	return errors.As(err, &fe) && fe.Err == ErrChecksumMismatch && fe.Offset == lengthChecksumOffset
}
