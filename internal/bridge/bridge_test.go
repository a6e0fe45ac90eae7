package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/protocol"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Clients() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Clients() = %d, want %d", hub.Clients(), n)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_PublishFanOut(t *testing.T) {
	hub := NewHub(8)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a := dial(t, wsURL(srv))
	b := dial(t, wsURL(srv))
	waitForClients(t, hub, 2)

	handler := hub.Handler()
	pose := &protocol.Pose2D{Utime: 7, X: 1.5, Y: -2, Theta: 0.25}
	if err := handler(dispatch.Delivery{RobotID: 3, Topic: protocol.TopicOdometry, Message: pose}); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %s ReadMessage() error = %v", name, err)
		}

		var got struct {
			RobotID   uint8           `json:"robot_id"`
			Topic     uint16          `json:"topic"`
			TopicName string          `json:"topic_name"`
			Message   protocol.Pose2D `json:"message"`
		}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("client %s event not JSON: %v (%s)", name, err, data)
		}
		if got.RobotID != 3 || got.Topic != 210 || got.TopicName != "odometry" {
			t.Errorf("client %s event header = %+v", name, got)
		}
		if got.Message != *pose {
			t.Errorf("client %s pose = %+v, want %+v", name, got.Message, *pose)
		}
	}
}

func TestHub_NonFiniteFloatsPublishedAsNull(t *testing.T) {
	hub := NewHub(8)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, wsURL(srv))
	waitForClients(t, hub, 1)

	nan := float32(math.NaN())
	hub.Publish(dispatch.Delivery{
		RobotID: 1,
		Topic:   protocol.TopicOdometry,
		Message: &protocol.Pose2D{Utime: 7, X: nan, Y: 1.5, Theta: float32(math.Inf(-1))},
	})
	hub.Publish(dispatch.Delivery{
		RobotID: 1,
		Topic:   protocol.TopicIMU,
		Message: &protocol.IMU{Utime: 8, Gyro: [3]float32{0.5, nan, 0}},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pose struct {
		TopicName string         `json:"topic_name"`
		Message   map[string]any `json:"message"`
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if err := json.Unmarshal(data, &pose); err != nil {
		t.Fatalf("event not JSON: %v (%s)", err, data)
	}
	if pose.TopicName != "odometry" {
		t.Errorf("topic_name = %q, want odometry", pose.TopicName)
	}
	for _, field := range []string{"X", "Theta"} {
		v, ok := pose.Message[field]
		if !ok || v != nil {
			t.Errorf("message[%s] = %v (present %v), want null", field, v, ok)
		}
	}
	if pose.Message["Y"] != 1.5 || pose.Message["Utime"] != float64(7) {
		t.Errorf("finite fields = %v", pose.Message)
	}

	var imu struct {
		Message struct {
			Gyro []*float64 `json:"Gyro"`
		} `json:"message"`
	}
	_, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if err := json.Unmarshal(data, &imu); err != nil {
		t.Fatalf("event not JSON: %v (%s)", err, data)
	}
	g := imu.Message.Gyro
	if len(g) != 3 || g[0] == nil || *g[0] != 0.5 || g[1] != nil || g[2] == nil {
		t.Errorf("Gyro = %s, want [0.5, null, 0]", data)
	}
}

func TestWithNulls_KeepsBytes(t *testing.T) {
	got := withNulls(&protocol.UnknownMessage{TopicID: 9, Data: []byte{1, 2}})
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("withNulls() = %T, want map", got)
	}
	if b, ok := m["Data"].([]byte); !ok || len(b) != 2 {
		t.Errorf("Data = %#v, want the raw bytes", m["Data"])
	}
	if withNulls(nil) != nil {
		t.Error("withNulls(nil) != nil")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub(1)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	slow := dial(t, wsURL(srv))
	waitForClients(t, hub, 1)

	// Fill the queue faster than the write pump can drain it.
	for i := 0; i < 100000 && hub.Dropped() == 0; i++ {
		hub.Broadcast([]byte(`{"n":1}`))
	}
	if hub.Dropped() == 0 {
		t.Fatal("slow client was never dropped")
	}
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d after drop, want 0", hub.Clients())
	}

	// The dropped client sees its connection end.
	_ = slow.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := slow.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(4)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, wsURL(srv))
	waitForClients(t, hub, 1)
	_ = conn.Close()
	waitForClients(t, hub, 0)

	// Publishing with no clients is a no-op.
	hub.Publish(dispatch.Delivery{Topic: protocol.TopicTimeSync, Message: &protocol.Timestamp{Utime: 1}})
}

func TestServer_RunAndShutdown(t *testing.T) {
	hub := NewHub(4)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	s := NewServer(ln.Addr().String(), hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	conn := dial(t, "ws://"+ln.Addr().String()+"/ws")
	waitForClients(t, hub, 1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("client still receiving after shutdown")
	}
}
