package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbotlink/mbotlink/internal/dispatch"
	"github.com/mbotlink/mbotlink/internal/logging"
	"go.uber.org/zap"
)

const (
	// DefaultClientBuffer is how many events may queue per client before it
	// is considered too slow and dropped.
	DefaultClientBuffer = 64

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is the JSON document published for every decoded message.
type Event struct {
	Time      time.Time `json:"time"`
	RobotID   uint8     `json:"robot_id"`
	Topic     uint16    `json:"topic"`
	TopicName string    `json:"topic_name"`
	Message   any       `json:"message"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans decoded messages out to WebSocket clients. Each client has a
// bounded queue; a client whose queue is full is disconnected so one slow
// reader never stalls the link.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	buffer   int
	upgrader websocket.Upgrader

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub; buffer <= 0 takes DefaultClientBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		buffer:  buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns a dispatch handler that publishes every delivery.
func (h *Hub) Handler() dispatch.HandlerFunc {
	return func(d dispatch.Delivery) error {
		h.Publish(d)
		return nil
	}
}

// Publish encodes d once and queues it for every client. JSON has no NaN or
// infinity, so a message carrying one is sent with those fields as null.
func (h *Hub) Publish(d dispatch.Delivery) {
	ev := Event{
		Time:      time.Now(),
		RobotID:   d.RobotID,
		Topic:     uint16(d.Topic),
		TopicName: d.Topic.String(),
		Message:   d.Message,
	}
	data, err := json.Marshal(ev)
	var unsupported *json.UnsupportedValueError
	if errors.As(err, &unsupported) {
		ev.Message = withNulls(d.Message)
		data, err = json.Marshal(ev)
	}
	if err != nil {
		logging.Warn("Failed to encode bridge event", zap.String("topic", d.Topic.String()), zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// Broadcast queues raw data for every client, dropping clients that are full.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.published.Add(1)
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			delete(h.clients, c)
			c.close()
			logging.Warn("Dropping slow bridge client", zap.String("remote_addr", c.conn.RemoteAddr().String()))
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and streams events to it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.LogLinkEvent(r.RemoteAddr, "bridge_client_connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readPump discards client input and notices when the client goes away.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for being slow.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// Server serves the hub on /ws.
type Server struct {
	hub  *Hub
	http *http.Server
}

// NewServer creates an HTTP server for hub on addr.
func NewServer(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": hub.Clients()})
	})
	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logging.Info("Bridge listening", zap.String("addr", "ws://"+ln.Addr().String()+"/ws"))

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("bridge shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
