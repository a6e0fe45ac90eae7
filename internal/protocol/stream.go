package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

const (
	// DefaultMaxHunt is how many bytes the reader may discard while looking
	// for a sync byte before reporting ErrNoSyncFound.
	DefaultMaxHunt = 64 * 1024

	// DefaultReadSize is the chunk size requested from the source per read.
	DefaultReadSize = 1024

	// maxEmptyReads bounds consecutive (0, nil) reads before they count as a timeout.
	maxEmptyReads = 64
)

// ReaderStats is a snapshot of StreamReader counters.
type ReaderStats struct {
	BytesRead    uint64 // Bytes pulled from the source
	BytesSkipped uint64 // Bytes discarded while hunting for a sync byte
	Envelopes    uint64 // Envelopes returned
	Resyncs      uint64 // Calls to Resync
}

// ReaderOption configures a StreamReader.
type ReaderOption func(*StreamReader)

// WithMaxHunt sets the sync-hunt byte budget. n <= 0 keeps the default.
func WithMaxHunt(n int) ReaderOption {
	return func(r *StreamReader) {
		if n > 0 {
			r.maxHunt = n
		}
	}
}

// WithReadSize sets the per-read chunk size. n <= 0 keeps the default.
func WithReadSize(n int) ReaderOption {
	return func(r *StreamReader) {
		if n > 0 {
			r.chunk = make([]byte, n)
		}
	}
}

// StreamReader turns an unreliable byte stream into a sequence of envelopes.
//
// It keeps a leftover buffer of bytes already read but not yet returned, and
// always searches forward from the front of that buffer for the next sync
// byte. A corrupted or misaligned envelope therefore costs at most the frames
// it overlaps; the next call picks up at the following sync byte.
//
// A StreamReader must be used from a single goroutine.
type StreamReader struct {
	src     io.Reader
	chunk   []byte
	buf     []byte // leftover bytes
	last    []byte // previous envelope minus its sync byte, for Resync
	hunted  int    // bytes discarded since the last envelope or ErrNoSyncFound
	maxHunt int
	closed  error // sticky ErrSourceClosed
	stats   ReaderStats
}

// NewStreamReader returns a reader pulling from src.
func NewStreamReader(src io.Reader, opts ...ReaderOption) *StreamReader {
	r := &StreamReader{
		src:     src,
		chunk:   make([]byte, DefaultReadSize),
		maxHunt: DefaultMaxHunt,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next blocks until a complete envelope is available and returns it.
//
// Errors:
//   - ErrSourceClosed: the source is gone; fatal, do not call Next again.
//   - ErrTimeout: the source read deadline expired; buffered bytes are kept.
//   - ErrNoSyncFound: the hunt budget was exhausted; the reader keeps going on the next call.
//   - ctx.Err(): cancellation, checked between reads.
func (r *StreamReader) Next(ctx context.Context) (Envelope, error) {
	for {
		idx := bytes.IndexByte(r.buf, SyncByte)
		if idx < 0 {
			r.discard(len(r.buf))
		} else if idx > 0 {
			r.discard(idx)
		}
		if len(r.buf) >= EnvelopeHeaderSize {
			break
		}
		if r.hunted > r.maxHunt {
			skipped := r.hunted
			r.hunted = 0
			return Envelope{}, fmt.Errorf("%w: discarded %d bytes", ErrNoSyncFound, skipped)
		}
		if err := r.fill(ctx); err != nil {
			return Envelope{}, err
		}
	}

	total := EnvelopeHeaderSize + int(binary.LittleEndian.Uint16(r.buf[2:4]))
	for len(r.buf) < total {
		if err := r.fill(ctx); err != nil {
			return Envelope{}, err
		}
	}

	env := Envelope{
		RobotID: r.buf[1],
		Payload: append([]byte(nil), r.buf[EnvelopeHeaderSize:total]...),
	}
	r.last = append(r.last[:0], r.buf[1:total]...)
	r.consume(total)
	r.hunted = 0
	r.stats.Envelopes++
	return env, nil
}

// Resync pushes back the bytes of the most recently returned envelope, minus
// its leading sync byte, so the next call re-scans them for a sync byte.
//
// Call it when the returned payload did not even start like an inner frame:
// the declared length was then probably noise and may have swallowed the real
// frame that followed. Only the last envelope can be pushed back.
func (r *StreamReader) Resync() {
	if len(r.last) == 0 {
		return
	}
	r.buf = append(r.last, r.buf...)
	r.last = nil
	r.stats.Resyncs++
}

// Buffered returns the number of leftover bytes waiting to be parsed.
func (r *StreamReader) Buffered() int {
	return len(r.buf)
}

// Stats returns a snapshot of the reader counters.
func (r *StreamReader) Stats() ReaderStats {
	return r.stats
}

func (r *StreamReader) discard(n int) {
	if n == 0 {
		return
	}
	r.hunted += n
	r.stats.BytesSkipped += uint64(n)
	r.consume(n)
}

// consume drops the first n buffered bytes, compacting in place so the
// backing array does not creep forward forever.
func (r *StreamReader) consume(n int) {
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// fill performs one read from the source and appends whatever arrived.
func (r *StreamReader) fill(ctx context.Context) error {
	if r.closed != nil {
		return r.closed
	}
	for empty := 0; ; empty++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
			r.stats.BytesRead += uint64(n)
		}
		if err != nil {
			err = classifyReadError(err)
			if errors.Is(err, ErrSourceClosed) {
				r.closed = err
			}
			if n > 0 {
				// Parse what arrived first; a sticky close resurfaces on the next fill.
				return nil
			}
			return err
		}
		if n > 0 {
			return nil
		}
		if empty >= maxEmptyReads {
			return fmt.Errorf("%w: %d empty reads", ErrTimeout, empty)
		}
	}
}

// classifyReadError maps transport errors onto the protocol taxonomy.
func classifyReadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, ErrSourceClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSourceClosed, err)
}
