package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"go.uber.org/zap"
)

// EnvelopeSource yields envelopes one at a time. *protocol.StreamReader
// satisfies it.
type EnvelopeSource interface {
	Next(ctx context.Context) (protocol.Envelope, error)
}

// resyncer is implemented by sources that can push back a bogus envelope.
type resyncer interface {
	Resync()
}

// Delivery is one decoded message together with its addressing.
type Delivery struct {
	RobotID uint8
	Topic   protocol.Topic
	Message protocol.Message
}

// HandlerFunc processes a decoded message. A returned error stops Run.
type HandlerFunc func(d Delivery) error

// Counters is a snapshot of dispatcher accounting.
type Counters struct {
	Envelopes uint64 // Envelopes pulled from the source
	Decoded   uint64 // Messages delivered to a handler or the fallback
	Discarded uint64 // Frames dropped for framing, checksum or size errors
	Unknown   uint64 // Frames on unregistered topics
	Timeouts  uint64 // Retryable source timeouts
}

// Dispatcher is the consumption loop: envelope -> inner frame -> typed message -> handler.
type Dispatcher struct {
	source   EnvelopeSource
	registry *protocol.Registry

	mu        sync.RWMutex
	handlers  map[protocol.Topic][]HandlerFunc
	fallback  HandlerFunc
	onUnknown HandlerFunc
	onRaw     func(env protocol.Envelope)

	envelopes atomic.Uint64
	decoded   atomic.Uint64
	discarded atomic.Uint64
	unknown   atomic.Uint64
	timeouts  atomic.Uint64
}

// New creates a dispatcher. A nil registry uses protocol.DefaultRegistry().
func New(source EnvelopeSource, registry *protocol.Registry) *Dispatcher {
	if registry == nil {
		registry = protocol.DefaultRegistry()
	}
	return &Dispatcher{
		source:   source,
		registry: registry,
		handlers: make(map[protocol.Topic][]HandlerFunc),
	}
}

// Handle registers fn for topic. Several handlers may share a topic; they
// run in registration order.
func (d *Dispatcher) Handle(topic protocol.Topic, fn HandlerFunc) {
	d.mu.Lock()
	d.handlers[topic] = append(d.handlers[topic], fn)
	d.mu.Unlock()
}

// HandleAll registers fn for every registered topic without a specific handler.
func (d *Dispatcher) HandleAll(fn HandlerFunc) {
	d.mu.Lock()
	d.fallback = fn
	d.mu.Unlock()
}

// OnUnknown registers a hook for frames on unregistered topics. Without it
// unknown topics are dropped silently.
func (d *Dispatcher) OnUnknown(fn HandlerFunc) {
	d.mu.Lock()
	d.onUnknown = fn
	d.mu.Unlock()
}

// OnEnvelope registers a hook that sees every raw envelope before parsing,
// used for capture files.
func (d *Dispatcher) OnEnvelope(fn func(env protocol.Envelope)) {
	d.mu.Lock()
	d.onRaw = fn
	d.mu.Unlock()
}

// Run pulls envelopes until ctx is cancelled, the source closes, or a
// handler fails. Framing and checksum errors are counted and skipped.
// Cancellation is checked between envelopes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		env, err := d.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			case protocol.IsFatal(err):
				return err
			case errors.Is(err, protocol.ErrTimeout):
				d.timeouts.Add(1)
				logging.Debug("Read timeout, retrying", zap.Error(err))
				continue
			case errors.Is(err, protocol.ErrNoSyncFound):
				logging.Warn("No sync byte in hunt budget", zap.Error(err))
				continue
			default:
				return fmt.Errorf("read envelope: %w", err)
			}
		}

		if err := d.Dispatch(env); err != nil {
			return err
		}
	}
}

// Dispatch processes a single envelope. Only handler errors are returned;
// malformed frames are counted and dropped.
func (d *Dispatcher) Dispatch(env protocol.Envelope) error {
	d.envelopes.Add(1)
	logging.LogEnvelope("received", env.RobotID, env.Payload)

	d.mu.RLock()
	onRaw := d.onRaw
	d.mu.RUnlock()
	if onRaw != nil {
		onRaw(env)
	}

	frame, err := protocol.ParseInnerFrame(env.Payload)
	if err != nil {
		n := d.discarded.Add(1)
		logging.LogDiscard("inner frame", err, n)
		// The inner header did not hold up, so the envelope length was likely
		// noise: re-scan its bytes for the real frame start.
		if protocol.NeedsRescan(err) {
			if rs, ok := d.source.(resyncer); ok {
				rs.Resync()
			}
		}
		return nil
	}

	msg, err := d.registry.Decode(frame.Topic, frame.Payload)
	if err != nil {
		n := d.discarded.Add(1)
		logging.LogDiscard("decode "+frame.Topic.String(), err, n)
		return nil
	}

	delivery := Delivery{RobotID: env.RobotID, Topic: frame.Topic, Message: msg}

	if _, ok := msg.(*protocol.UnknownMessage); ok {
		d.unknown.Add(1)
		d.mu.RLock()
		hook := d.onUnknown
		d.mu.RUnlock()
		if hook != nil {
			return hook(delivery)
		}
		return nil
	}

	d.decoded.Add(1)

	d.mu.RLock()
	handlers := d.handlers[frame.Topic]
	fallback := d.fallback
	d.mu.RUnlock()

	if len(handlers) == 0 && fallback != nil {
		handlers = []HandlerFunc{fallback}
	}
	for _, h := range handlers {
		if err := h(delivery); err != nil {
			return fmt.Errorf("handle %s from robot %d: %w", frame.Topic, env.RobotID, err)
		}
	}
	return nil
}

// Counters returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Envelopes: d.envelopes.Load(),
		Decoded:   d.decoded.Load(),
		Discarded: d.discarded.Load(),
		Unknown:   d.unknown.Load(),
		Timeouts:  d.timeouts.Load(),
	}
}
