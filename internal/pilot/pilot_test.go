package pilot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mbotlink/mbotlink/internal/protocol"
)

type sent struct {
	robotID uint8
	msg     protocol.Message
}

// recordingSender captures every Send; err, if set, is returned instead.
type recordingSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recordingSender) Send(robotID uint8, msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, sent{robotID, msg})
	return nil
}

func (r *recordingSender) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.msgs...)
}

// scripted returns readings in order, repeating the last one.
type scripted struct {
	readings [][2]float32
	i        int
}

func (s *scripted) Velocity() (float32, float32, error) {
	r := s.readings[s.i]
	if s.i < len(s.readings)-1 {
		s.i++
	}
	return r[0], r[1], nil
}

var fixedClock = func() time.Time { return time.UnixMicro(1_000_000) }

func TestPilot_StepScalesAndSkipsUnchanged(t *testing.T) {
	rec := &recordingSender{}
	src := &scripted{readings: [][2]float32{{0, 0}, {1, 0}, {1, 0}, {0.5, -1}, {0, 0}}}
	p := New(rec, src, Options{RobotID: 4, VXScale: 0.3, WZScale: 1.5, Now: fixedClock})

	wantSent := []bool{false, true, false, true, true}
	for i, want := range wantSent {
		got, err := p.Step()
		if err != nil {
			t.Fatalf("Step() #%d error = %v", i, err)
		}
		if got != want {
			t.Errorf("Step() #%d sent = %v, want %v", i, got, want)
		}
	}

	msgs := rec.snapshot()
	if len(msgs) != 3 {
		t.Fatalf("sent %d commands, want 3", len(msgs))
	}
	tests := []struct {
		vx, wz float32
	}{
		{1 * 0.3, 0},
		{0.5 * 0.3, -1 * 1.5},
		{0, 0},
	}
	for i, tt := range tests {
		cmd, ok := msgs[i].msg.(*protocol.Twist2D)
		if !ok {
			t.Fatalf("message %d is %T, want *Twist2D", i, msgs[i].msg)
		}
		if msgs[i].robotID != 4 {
			t.Errorf("message %d robot = %d, want 4", i, msgs[i].robotID)
		}
		if cmd.VX != tt.vx || cmd.WZ != tt.wz || cmd.VY != 0 {
			t.Errorf("message %d = %+v, want vx=%v wz=%v", i, cmd, tt.vx, tt.wz)
		}
		if cmd.Utime != 1_000_000 {
			t.Errorf("message %d utime = %d, want 1000000", i, cmd.Utime)
		}
	}

	if p.Sent() != 3 || p.Skipped() != 2 {
		t.Errorf("Sent/Skipped = %d/%d, want 3/2", p.Sent(), p.Skipped())
	}
}

func TestPilot_SourceError(t *testing.T) {
	boom := errors.New("joystick unplugged")
	p := New(&recordingSender{}, VelocityFunc(func() (float32, float32, error) {
		return 0, 0, boom
	}), Options{})
	if _, err := p.Step(); !errors.Is(err, boom) {
		t.Errorf("Step() error = %v, want wrapped source error", err)
	}
}

func TestPilot_RunStopsRobotOnCancel(t *testing.T) {
	rec := &recordingSender{}
	p := New(rec, Constant{VX: 1}, Options{Period: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}

	msgs := rec.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("sent %d commands, want move + stop", len(msgs))
	}
	last := msgs[len(msgs)-1].msg.(*protocol.Twist2D)
	if last.VX != 0 || last.WZ != 0 {
		t.Errorf("final command = %+v, want zero twist", last)
	}
}

func TestPilot_RunReturnsOnClosedSink(t *testing.T) {
	rec := &recordingSender{err: fmt.Errorf("%w: port gone", protocol.ErrSinkClosed)}
	p := New(rec, Constant{VX: 1}, Options{Period: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, protocol.ErrSinkClosed) {
		t.Errorf("Run() error = %v, want ErrSinkClosed", err)
	}
}

func TestOscillator(t *testing.T) {
	o := NewOscillator()
	reversed := false
	prev := float32(0)
	for i := 0; i < 40; i++ {
		vx, wz, _ := o.Velocity()
		if wz != 0 {
			t.Fatalf("wz = %v, want 0", wz)
		}
		if vx > o.Limit+0.11 || vx < -o.Limit-0.11 {
			t.Fatalf("vx = %v escaped the sweep", vx)
		}
		if vx < prev {
			reversed = true
		}
		prev = vx
	}
	if !reversed {
		t.Error("oscillator never reversed")
	}
}

func TestHeartbeat_Beat(t *testing.T) {
	rec := &recordingSender{}
	h := NewHeartbeat(rec, time.Second, func() []uint8 { return []uint8{0, 2, 5} })
	h.now = fixedClock

	if err := h.Beat(); err != nil {
		t.Fatalf("Beat() error = %v", err)
	}
	msgs := rec.snapshot()
	if len(msgs) != 3 {
		t.Fatalf("sent %d timestamps, want 3", len(msgs))
	}
	for i, id := range []uint8{0, 2, 5} {
		ts, ok := msgs[i].msg.(*protocol.Timestamp)
		if !ok || msgs[i].robotID != id {
			t.Errorf("message %d = robot %d %T, want robot %d timestamp", i, msgs[i].robotID, msgs[i].msg, id)
			continue
		}
		if ts.Topic() != protocol.TopicTimeSync || ts.Utime != 1_000_000 {
			t.Errorf("timestamp %d = %+v", i, ts)
		}
	}
}

func TestHeartbeat_RunUntilCancel(t *testing.T) {
	rec := &recordingSender{}
	h := NewHeartbeat(rec, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v", err)
	}
	if len(rec.snapshot()) == 0 {
		t.Error("no heartbeats sent")
	}
	for _, m := range rec.snapshot() {
		if m.robotID != 0 {
			t.Errorf("default target robot = %d, want 0", m.robotID)
		}
	}
}

func TestHeartbeat_ClosedSinkEndsRun(t *testing.T) {
	rec := &recordingSender{err: protocol.ErrSinkClosed}
	h := NewHeartbeat(rec, time.Millisecond, nil)
	if err := h.Run(context.Background()); !errors.Is(err, protocol.ErrSinkClosed) {
		t.Errorf("Run() error = %v, want ErrSinkClosed", err)
	}
}
