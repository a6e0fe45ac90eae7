package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mbotlink/mbotlink/internal/protocol"
)

func startRelay(t *testing.T, host io.Writer, maxRobots int) (*Relay, context.CancelFunc, chan error) {
	t.Helper()
	r := New(Config{Listen: "127.0.0.1:0", MaxRobots: maxRobots}, host)
	if err := r.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, cancel, done
}

func dialRobot(t *testing.T, r *Relay) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForRobots(t *testing.T, r *Relay, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(r.Robots()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Robots() = %v, want %d connected", r.Robots(), n)
}

func innerFrame(t *testing.T, msg protocol.Message) []byte {
	t.Helper()
	payload, _ := msg.MarshalBinary()
	inner, err := protocol.BuildInnerFrame(msg.Topic(), payload)
	if err != nil {
		t.Fatalf("BuildInnerFrame() error = %v", err)
	}
	return inner
}

func TestRelay_RobotToHost(t *testing.T) {
	hostR, hostW := io.Pipe()
	defer hostR.Close()

	var (
		tapMu sync.Mutex
		taps  []string
	)
	r := New(Config{Listen: "127.0.0.1:0", MaxRobots: 4}, hostW)
	r.SetTap(func(direction string, env protocol.Envelope) {
		tapMu.Lock()
		taps = append(taps, direction)
		tapMu.Unlock()
	})
	if err := r.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	defer func() {
		cancel()
		_ = hostW.Close()
		<-done
	}()

	robot := dialRobot(t, r)
	waitForRobots(t, r, 1)

	pose := &protocol.Pose2D{Utime: 99, X: 1.25, Theta: -0.5}
	// Noise before the frame must be skipped by the relay.
	stream := append([]byte{0x00, 0xFF, 0x13, 0x37}, innerFrame(t, pose)...)
	if _, err := robot.Write(stream); err != nil {
		t.Fatalf("robot Write() error = %v", err)
	}

	reader := protocol.NewStreamReader(hostR)
	readCtx, readCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readCancel()
	env, err := reader.Next(readCtx)
	if err != nil {
		t.Fatalf("host Next() error = %v", err)
	}
	if env.RobotID != 0 {
		t.Errorf("RobotID = %d, want 0", env.RobotID)
	}
	frame, err := protocol.ParseInnerFrame(env.Payload)
	if err != nil {
		t.Fatalf("ParseInnerFrame() error = %v", err)
	}
	msg, err := protocol.DefaultRegistry().Decode(frame.Topic, frame.Payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := msg.(*protocol.Pose2D); *got != *pose {
		t.Errorf("relayed pose = %+v, want %+v", got, pose)
	}

	if r.Counters().Upstream != 1 {
		t.Errorf("Upstream = %d, want 1", r.Counters().Upstream)
	}
	tapMu.Lock()
	if len(taps) != 1 || taps[0] != Upstream {
		t.Errorf("taps = %v, want [%s]", taps, Upstream)
	}
	tapMu.Unlock()
}

func TestRelay_HostToRobot(t *testing.T) {
	r, _, _ := startRelay(t, io.Discard, 4)
	robot := dialRobot(t, r)
	waitForRobots(t, r, 1)

	twist := &protocol.Twist2D{Utime: 5, VX: 0.25}
	toRobot, _ := protocol.Encode(0, twist)
	toNobody, _ := protocol.Encode(3, twist)
	corrupt, _ := protocol.Encode(0, twist)
	corrupt[len(corrupt)-1] ^= 0x01

	hostStream := protocol.NewStreamReader(bytes.NewReader(append(append(toNobody, corrupt...), toRobot...)))
	err := r.ForwardFromHost(context.Background(), hostStream)
	if !errors.Is(err, protocol.ErrSourceClosed) {
		t.Fatalf("ForwardFromHost() error = %v, want ErrSourceClosed", err)
	}

	_ = robot.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.NewInnerReader(robot).Next(context.Background())
	if err != nil {
		t.Fatalf("robot Next() error = %v", err)
	}
	if !bytes.Equal(frame, toRobot[protocol.EnvelopeHeaderSize:]) {
		t.Errorf("robot received % x, want inner frame % x", frame, toRobot[protocol.EnvelopeHeaderSize:])
	}

	c := r.Counters()
	if c.Downstream != 1 || c.Dropped != 2 {
		t.Errorf("Counters() = %+v, want 1 downstream, 2 dropped", c)
	}
}

func TestRelay_HostResyncAfterStrayHeader(t *testing.T) {
	r, _, _ := startRelay(t, io.Discard, 4)
	robot := dialRobot(t, r)
	waitForRobots(t, r, 1)

	toRobot, _ := protocol.Encode(0, &protocol.Twist2D{Utime: 9, WZ: -1})
	stray := []byte{0xFF, 0x09, 0x02, 0x00}

	hostStream := protocol.NewStreamReader(bytes.NewReader(append(stray, toRobot...)))
	if err := r.ForwardFromHost(context.Background(), hostStream); !errors.Is(err, protocol.ErrSourceClosed) {
		t.Fatalf("ForwardFromHost() error = %v, want ErrSourceClosed", err)
	}

	_ = robot.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.NewInnerReader(robot).Next(context.Background())
	if err != nil {
		t.Fatalf("robot Next() error = %v", err)
	}
	if !bytes.Equal(frame, toRobot[protocol.EnvelopeHeaderSize:]) {
		t.Errorf("robot received % x, want inner frame % x", frame, toRobot[protocol.EnvelopeHeaderSize:])
	}
	if c := r.Counters(); c.Downstream != 1 || c.Dropped != 1 {
		t.Errorf("Counters() = %+v, want 1 downstream, 1 dropped", c)
	}
}

func TestRelay_SendActsAsSender(t *testing.T) {
	r, _, _ := startRelay(t, io.Discard, 4)
	robot := dialRobot(t, r)
	waitForRobots(t, r, 1)

	if err := r.Send(0, &protocol.Timestamp{Utime: 1234}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := r.Send(7, &protocol.Timestamp{Utime: 1}); err != nil {
		t.Errorf("Send() to absent robot error = %v, want nil (dropped)", err)
	}

	_ = robot.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := protocol.NewInnerReader(robot).Next(context.Background())
	if err != nil {
		t.Fatalf("robot Next() error = %v", err)
	}
	parsed, _ := protocol.ParseInnerFrame(frame)
	if parsed.Topic != protocol.TopicTimeSync {
		t.Errorf("topic = %v, want timesync", parsed.Topic)
	}
}

func TestRelay_RegisterAssignsIDs(t *testing.T) {
	r := New(Config{MaxRobots: 2}, io.Discard)
	conns := make([]net.Conn, 4)
	for i := range conns {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()
		conns[i] = a
	}

	first, err := r.register(conns[0])
	if err != nil || first.id != 0 {
		t.Fatalf("first register = %v, %v; want id 0", first, err)
	}
	second, err := r.register(conns[1])
	if err != nil || second.id != 1 {
		t.Fatalf("second register = %v, %v; want id 1", second, err)
	}
	if _, err := r.register(conns[2]); !errors.Is(err, ErrRelayFull) {
		t.Fatalf("third register error = %v, want ErrRelayFull", err)
	}

	r.unregister(first)
	again, err := r.register(conns[3])
	if err != nil || again.id != 0 {
		t.Errorf("register after release = %v, %v; want id 0", again, err)
	}
}

func TestRelay_RejectsWhenFull(t *testing.T) {
	r, _, _ := startRelay(t, io.Discard, 1)
	dialRobot(t, r)
	waitForRobots(t, r, 1)

	extra := dialRobot(t, r)
	_ = extra.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := extra.Read(make([]byte, 1)); err == nil {
		t.Error("second robot connection was not closed")
	}
	if r.Counters().Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", r.Counters().Rejected)
	}
}

func TestRelay_ShutdownClosesRobots(t *testing.T) {
	r, cancel, done := startRelay(t, io.Discard, 4)
	robot := dialRobot(t, r)
	waitForRobots(t, r, 1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
		done <- err // let the cleanup drain it
	case <-time.After(3 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	_ = robot.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := robot.Read(make([]byte, 1)); err == nil {
		t.Error("robot connection still open after shutdown")
	}
	if len(r.Robots()) != 0 {
		t.Errorf("Robots() = %v after shutdown, want none", r.Robots())
	}
}
