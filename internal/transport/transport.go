package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"go.uber.org/zap"
)

// Link is a byte source and sink: a serial port or a TCP connection.
// Reads may be short; Writes must be whole-or-error.
type Link interface {
	io.ReadWriteCloser
}

// Kind selects the transport.
type Kind string

const (
	KindSerial Kind = "serial"
	KindTCP    Kind = "tcp"
)

// Options describes how to open a link.
type Options struct {
	Kind        Kind
	Port        string        // Serial device path; empty = auto-detect
	Baud        int           // Serial baud rate
	Address     string        // host:port for TCP
	ReadTimeout time.Duration // 0 = block forever
}

// Open opens the link described by opts.
func Open(ctx context.Context, opts Options) (Link, error) {
	switch opts.Kind {
	case KindSerial, "":
		port := opts.Port
		if port == "" {
			found, err := FindPort()
			if err != nil {
				return nil, err
			}
			logging.Info("Auto-detected link controller", zap.String("port", found))
			port = found
		}
		return OpenSerial(port, opts.Baud, opts.ReadTimeout)
	case KindTCP:
		return DialTCP(ctx, opts.Address, opts.ReadTimeout)
	default:
		return nil, fmt.Errorf("unknown transport %q (expected serial or tcp)", opts.Kind)
	}
}

// tcpLink applies a rolling read deadline to a net.Conn.
type tcpLink struct {
	net.Conn
	timeout time.Duration
}

// DialTCP connects to a relay or robot listening on addr.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	logging.LogLinkEvent("tcp:"+addr, "connected")
	return NewConnLink(conn, timeout), nil
}

// NewConnLink wraps an established connection. A positive timeout sets a
// fresh read deadline before every Read.
func NewConnLink(conn net.Conn, timeout time.Duration) Link {
	return &tcpLink{Conn: conn, timeout: timeout}
}

func (t *tcpLink) Read(p []byte) (int, error) {
	if t.timeout > 0 {
		if err := t.Conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.Conn.Read(p)
}

func (t *tcpLink) String() string {
	return "tcp:" + t.Conn.RemoteAddr().String()
}

// SyncWriter serialises whole-envelope writes to a sink shared by several
// senders (heartbeat, pilot, relay). The read side is never touched.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w.
func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

// Write writes all of p or fails with an error wrapping protocol.ErrSinkClosed.
func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: %v", protocol.ErrSinkClosed, err)
	}
	if n != len(p) {
		return n, fmt.Errorf("%w: short write %d of %d bytes", protocol.ErrSinkClosed, n, len(p))
	}
	return n, nil
}

// Sender encodes messages into envelopes and writes them to a sink.
type Sender struct {
	w *SyncWriter
}

// NewSender returns a sender writing to w. If w is already a *SyncWriter it
// is shared, not wrapped again.
func NewSender(w io.Writer) *Sender {
	if sw, ok := w.(*SyncWriter); ok {
		return &Sender{w: sw}
	}
	return &Sender{w: NewSyncWriter(w)}
}

// Send writes msg on its default topic to robotID.
func (s *Sender) Send(robotID uint8, msg protocol.Message) error {
	return s.SendOn(msg.Topic(), robotID, msg)
}

// SendOn writes msg on an explicit topic to robotID.
func (s *Sender) SendOn(topic protocol.Topic, robotID uint8, msg protocol.Message) error {
	pkt, err := protocol.EncodeOn(topic, robotID, msg)
	if err != nil {
		return err
	}
	return s.SendRaw(robotID, pkt)
}

// SendRaw writes an already-built envelope.
func (s *Sender) SendRaw(robotID uint8, pkt []byte) error {
	if _, err := s.w.Write(pkt); err != nil {
		logging.Error("Failed to send envelope",
			zap.Uint8("robot_id", robotID),
			zap.Int("length", len(pkt)),
			zap.Error(err),
		)
		return err
	}
	logging.LogEnvelope("sent", robotID, pkt)
	return nil
}

// IsClosed reports whether err means the link itself is gone.
func IsClosed(err error) bool {
	return protocol.IsFatal(err) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
