package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"github.com/mbotlink/mbotlink/internal/transport"
	"go.uber.org/zap"
)

// DefaultMaxRobots matches the access point's connection limit.
const DefaultMaxRobots = 8

var (
	// ErrRelayFull is returned when every robot id is in use.
	ErrRelayFull = errors.New("relay: all robot ids in use")
	// ErrRobotGone is returned by Route when the robot's connection failed.
	// It does not wrap protocol.ErrSinkClosed: losing one robot leaves the relay up.
	ErrRobotGone = errors.New("relay: robot connection lost")
)

// Config holds the relay configuration
type Config struct {
	Listen      string        // TCP address robots connect to
	MaxRobots   int           // Robot ids are assigned in [0, MaxRobots)
	ReadTimeout time.Duration // Per-read deadline on robot connections; 0 = none
}

// TapFunc observes every envelope crossing the relay.
type TapFunc func(direction string, env protocol.Envelope)

// Directions passed to a TapFunc
const (
	Upstream   = "robot->host"
	Downstream = "host->robot"
)

// Counters is a snapshot of relay traffic.
type Counters struct {
	Accepted   uint64
	Rejected   uint64
	Upstream   uint64 // Frames wrapped and written to the host
	Downstream uint64 // Frames routed to robots
	Dropped    uint64 // Host frames for unknown robots or failing validation
}

type robotConn struct {
	id   uint8
	conn net.Conn
	w    *transport.SyncWriter
}

// Relay bridges robots on TCP to a single host link. Each robot gets a
// robot id on connect; its bare inner frames are wrapped into envelopes for
// the host, and host envelopes are unwrapped and routed back by id.
type Relay struct {
	config   Config
	host     *transport.SyncWriter
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	robots   map[uint8]*robotConn
	nextID   int
	tap      TapFunc
	closing  atomic.Bool

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	upstream   atomic.Uint64
	downstream atomic.Uint64
	dropped    atomic.Uint64
}

// New creates a relay writing robot traffic to host.
func New(config Config, host io.Writer) *Relay {
	if config.MaxRobots <= 0 || config.MaxRobots > 256 {
		config.MaxRobots = DefaultMaxRobots
	}
	sw, ok := host.(*transport.SyncWriter)
	if !ok {
		sw = transport.NewSyncWriter(host)
	}
	return &Relay{
		config: config,
		host:   sw,
		robots: make(map[uint8]*robotConn),
	}
}

// SetTap installs an observer for relayed envelopes. Call before Serve.
func (r *Relay) SetTap(tap TapFunc) {
	r.tap = tap
}

// Listen binds the TCP listener.
func (r *Relay) Listen() error {
	listener, err := net.Listen("tcp", r.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Listen, err)
	}
	r.listener = listener
	logging.Info("Relay listening for robots",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_robots", r.config.MaxRobots),
	)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Relay) Addr() net.Addr {
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Serve accepts robots until ctx is done, then shuts down. Listen is
// called first if it has not been.
func (r *Relay) Serve(ctx context.Context) error {
	if r.listener == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- r.acceptConnections(ctx)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Stopping relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// acceptConnections accepts and handles incoming robot connections
func (r *Relay) acceptConnections(ctx context.Context) error {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || r.closing.Load() {
				return nil
			}
			logging.Error("Failed to accept connection", zap.Error(err))
			continue
		}

		robot, err := r.register(conn)
		if err != nil {
			r.rejected.Add(1)
			logging.Warn("Rejecting robot connection",
				zap.String("remote_addr", conn.RemoteAddr().String()),
				zap.Error(err),
			)
			_ = conn.Close()
			continue
		}
		r.accepted.Add(1)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleRobot(ctx, robot)
		}()
	}
}

// register assigns the next free robot id, scanning from the last one
// handed out so ids are reused round-robin.
func (r *Relay) register(conn net.Conn) (*robotConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.config.MaxRobots; i++ {
		id := uint8((r.nextID + i) % r.config.MaxRobots)
		if _, taken := r.robots[id]; taken {
			continue
		}
		robot := &robotConn{id: id, conn: conn, w: transport.NewSyncWriter(conn)}
		r.robots[id] = robot
		r.nextID = (int(id) + 1) % r.config.MaxRobots
		return robot, nil
	}
	return nil, ErrRelayFull
}

func (r *Relay) unregister(robot *robotConn) {
	r.mu.Lock()
	if r.robots[robot.id] == robot {
		delete(r.robots, robot.id)
	}
	r.mu.Unlock()
}

// handleRobot pumps one robot's inner frames up to the host.
func (r *Relay) handleRobot(ctx context.Context, robot *robotConn) {
	remoteAddr := robot.conn.RemoteAddr().String()
	defer func() {
		_ = robot.conn.Close()
		r.unregister(robot)
		logging.LogLinkEvent(remoteAddr, "robot_disconnected")
	}()

	logging.Info("Robot connected",
		zap.String("remote_addr", remoteAddr),
		zap.Uint8("robot_id", robot.id),
	)

	reader := protocol.NewInnerReader(transport.NewConnLink(robot.conn, r.config.ReadTimeout))
	for {
		inner, err := reader.Next(ctx)
		switch {
		case err == nil:
		case protocol.IsRetryable(err):
			continue
		default:
			if !protocol.IsFatal(err) && !errors.Is(err, context.Canceled) {
				logging.Warn("Robot read failed", zap.Uint8("robot_id", robot.id), zap.Error(err))
			}
			return
		}

		pkt, err := protocol.WrapInnerFrame(robot.id, inner)
		if err != nil {
			r.dropped.Add(1)
			continue
		}
		if _, err := r.host.Write(pkt); err != nil {
			logging.Error("Host link write failed", zap.Uint8("robot_id", robot.id), zap.Error(err))
			return
		}
		r.upstream.Add(1)
		logging.LogEnvelope("up", robot.id, pkt)
		if r.tap != nil {
			r.tap(Upstream, protocol.Envelope{RobotID: robot.id, Payload: inner})
		}
	}
}

// Route delivers a host envelope's inner frame to its robot. Envelopes for
// robots that are not connected are dropped. A write failure disconnects
// the robot and is returned.
func (r *Relay) Route(env protocol.Envelope) error {
	r.mu.Lock()
	robot, ok := r.robots[env.RobotID]
	r.mu.Unlock()
	if !ok {
		r.dropped.Add(1)
		logging.Debug("No robot for envelope, dropping", zap.Uint8("robot_id", env.RobotID))
		return nil
	}

	if _, err := robot.w.Write(env.Payload); err != nil {
		_ = robot.conn.Close()
		return fmt.Errorf("%w: robot %d: %v", ErrRobotGone, env.RobotID, err)
	}
	r.downstream.Add(1)
	if r.tap != nil {
		r.tap(Downstream, env)
	}
	return nil
}

// Send builds an inner frame for msg and routes it to robotID. It lets the
// relay act as a pilot.Sender, e.g. for a heartbeat to every robot.
func (r *Relay) Send(robotID uint8, msg protocol.Message) error {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	inner, err := protocol.BuildInnerFrame(msg.Topic(), payload)
	if err != nil {
		return err
	}
	return r.Route(protocol.Envelope{RobotID: robotID, Payload: inner})
}

// EnvelopeSource yields host envelopes. *protocol.StreamReader satisfies it.
type EnvelopeSource interface {
	Next(ctx context.Context) (protocol.Envelope, error)
}

// ForwardFromHost reads envelopes from the host link and routes each valid
// one to its robot until ctx is done or the host link closes.
func (r *Relay) ForwardFromHost(ctx context.Context, src EnvelopeSource) error {
	resync, _ := src.(interface{ Resync() })
	for {
		env, err := src.Next(ctx)
		switch {
		case err == nil:
		case protocol.IsRetryable(err):
			continue
		default:
			return err
		}

		if _, err := protocol.ParseInnerFrame(env.Payload); err != nil {
			r.dropped.Add(1)
			logging.LogDiscard("invalid host frame", err, r.dropped.Load())
			if protocol.NeedsRescan(err) && resync != nil {
				resync.Resync()
			}
			continue
		}
		if err := r.Route(env); err != nil {
			logging.Warn("Routing failed", zap.Error(err))
		}
	}
}

// Robots returns the connected robot ids in ascending order.
func (r *Relay) Robots() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint8, 0, len(r.robots))
	for id := range r.robots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Counters returns a snapshot of the relay counters.
func (r *Relay) Counters() Counters {
	return Counters{
		Accepted:   r.accepted.Load(),
		Rejected:   r.rejected.Load(),
		Upstream:   r.upstream.Load(),
		Downstream: r.downstream.Load(),
		Dropped:    r.dropped.Load(),
	}
}

// Shutdown gracefully shuts down the relay
func (r *Relay) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down relay...")
	r.closing.Store(true)

	if r.listener != nil {
		if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}

	r.mu.Lock()
	for id, robot := range r.robots {
		logging.Info("Closing robot connection", zap.Uint8("robot_id", id))
		_ = robot.conn.Close()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All robot connections closed")
		return nil
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		return ctx.Err()
	}
}
