package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// InnerReader extracts bare inner frames (no envelope) from a byte stream, as
// robots send them to the relay over TCP.
//
// Unlike StreamReader it has the version byte and checksum_1 available before
// trusting the declared length, so a bad candidate costs a single byte of
// re-scan instead of a whole frame.
type InnerReader struct {
	s *StreamReader
}

// NewInnerReader returns a reader pulling inner frames from src.
func NewInnerReader(src io.Reader, opts ...ReaderOption) *InnerReader {
	return &InnerReader{s: NewStreamReader(src, opts...)}
}

// Next returns the next complete, checksum-verified inner frame.
// Error semantics match StreamReader.Next.
func (r *InnerReader) Next(ctx context.Context) ([]byte, error) {
	s := r.s
	for {
		idx := bytes.IndexByte(s.buf, SyncByte)
		if idx < 0 {
			s.discard(len(s.buf))
		} else if idx > 0 {
			s.discard(idx)
		}

		if len(s.buf) < InnerHeaderSize {
			if s.hunted > s.maxHunt {
				skipped := s.hunted
				s.hunted = 0
				return nil, fmt.Errorf("%w: discarded %d bytes", ErrNoSyncFound, skipped)
			}
			if err := s.fill(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if s.buf[1] != VersionByte || s.buf[4] != Checksum(s.buf[2:4]) {
			s.discard(1)
			continue
		}

		total := InnerOverhead + int(binary.LittleEndian.Uint16(s.buf[2:4]))
		for len(s.buf) < total {
			if err := s.fill(ctx); err != nil {
				return nil, err
			}
		}

		frame := append([]byte(nil), s.buf[:total]...)
		if _, err := ParseInnerFrame(frame); err != nil {
			s.discard(1)
			continue
		}
		s.consume(total)
		s.hunted = 0
		s.stats.Envelopes++
		return frame, nil
	}
}

// Stats returns a snapshot of the reader counters. Envelopes counts inner frames.
func (r *InnerReader) Stats() ReaderStats {
	return r.s.Stats()
}
