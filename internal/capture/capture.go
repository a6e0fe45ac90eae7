package capture

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"go.uber.org/zap"
)

// Directions recorded in a capture.
const (
	DirectionIn  = "robot->host"
	DirectionOut = "host->robot"
)

// Record is one captured envelope, one JSON object per line.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Seq        uint64    `json:"seq"`
	Direction  string    `json:"direction"`
	RobotID    uint8     `json:"robot_id"`
	Topic      uint16    `json:"topic"`
	TopicName  string    `json:"topic_name"`
	PayloadLen int       `json:"payload_length"`
	InnerHex   string    `json:"inner_hex"`
	Decoded    string    `json:"decoded,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Envelope rebuilds the wire bytes of the captured envelope.
func (r Record) Envelope() ([]byte, error) {
	inner, err := hex.DecodeString(r.InnerHex)
	if err != nil {
		return nil, fmt.Errorf("record %d: bad inner_hex: %w", r.Seq, err)
	}
	return protocol.WrapInnerFrame(r.RobotID, inner)
}

// Recorder appends envelopes to a JSONL capture file.
type Recorder struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
	seq  uint64
	now  func() time.Time
}

// NewRecorder creates dir if needed and opens capture-YYYYMMDD-HHMMSS.jsonl in it.
func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("capture-%s.jsonl", now.Format("20060102-150405")))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	logging.Info("Capturing envelopes", zap.String("filename", path))
	return &Recorder{f: f, w: bufio.NewWriter(f), path: path, now: time.Now}, nil
}

// Path returns the capture file name.
func (r *Recorder) Path() string { return r.path }

// Record writes env. msg may be nil when decoding failed; decodeErr, if
// set, is stored alongside the raw bytes.
func (r *Recorder) Record(direction string, env protocol.Envelope, msg protocol.Message, decodeErr error) error {
	rec := Record{
		Direction:  direction,
		RobotID:    env.RobotID,
		PayloadLen: len(env.Payload),
		InnerHex:   hex.EncodeToString(env.Payload),
	}
	if frame, err := protocol.ParseInnerFrame(env.Payload); err == nil {
		rec.Topic = uint16(frame.Topic)
		rec.TopicName = frame.Topic.String()
		rec.PayloadLen = len(frame.Payload)
	} else if decodeErr == nil {
		decodeErr = err
	}
	if msg != nil {
		rec.Decoded = msg.String()
	}
	if decodeErr != nil {
		rec.Error = decodeErr.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return fmt.Errorf("capture %s is closed", r.path)
	}
	r.seq++
	rec.Seq = r.seq
	rec.Timestamp = r.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal capture record: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	return nil
}

// Flush pushes buffered records to disk.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	return r.w.Flush()
}

// Close flushes and closes the file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	flushErr := r.w.Flush()
	closeErr := r.f.Close()
	r.f = nil
	logging.Debug("Capture closed", zap.String("filename", r.path), zap.Uint64("records", r.seq))
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Load reads every record from a capture file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f)
}

// Decode reads JSONL records from r until EOF.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	for {
		var rec Record
		if err := dec.Decode(&rec); err == io.EOF {
			return records, nil
		} else if err != nil {
			return records, fmt.Errorf("capture record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

// Replay returns a reader yielding the captured envelopes in the given
// direction back to back, as they appeared on the wire. An empty direction
// selects all records.
func Replay(records []Record, direction string) (io.Reader, error) {
	var buf []byte
	for _, rec := range records {
		if direction != "" && rec.Direction != direction {
			continue
		}
		pkt, err := rec.Envelope()
		if err != nil {
			return nil, err
		}
		buf = append(buf, pkt...)
	}
	return bytes.NewReader(buf), nil
}
