package pilot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"go.uber.org/zap"
)

const (
	// DefaultPeriod matches the command link's joystick poll rate.
	DefaultPeriod  = 100 * time.Millisecond
	DefaultVXScale = 0.3
	DefaultWZScale = 1.5
)

// Sender writes one message to one robot. *transport.Sender satisfies it.
type Sender interface {
	Send(robotID uint8, msg protocol.Message) error
}

// VelocitySource yields the operator's normalised command, typically in
// [-1, 1] for both axes, before scaling.
type VelocitySource interface {
	Velocity() (vx, wz float32, err error)
}

// VelocityFunc adapts a function to VelocitySource.
type VelocityFunc func() (vx, wz float32, err error)

// Velocity calls f.
func (f VelocityFunc) Velocity() (float32, float32, error) { return f() }

// Options configures a Pilot.
type Options struct {
	RobotID uint8
	Period  time.Duration
	VXScale float32
	WZScale float32
	Now     func() time.Time // Clock for utime stamps; nil = time.Now
}

// Pilot periodically turns a VelocitySource into velocity commands on
// topic 214. A reading identical to the previous one is not resent.
type Pilot struct {
	sender Sender
	source VelocitySource
	opts   Options

	prevVX, prevWZ float32
	moving         bool

	sent    atomic.Uint64
	skipped atomic.Uint64
}

// New creates a Pilot. Zero option values take the package defaults.
func New(sender Sender, source VelocitySource, opts Options) *Pilot {
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.VXScale == 0 {
		opts.VXScale = DefaultVXScale
	}
	if opts.WZScale == 0 {
		opts.WZScale = DefaultWZScale
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pilot{sender: sender, source: source, opts: opts}
}

// Step samples the source once and sends a command if it changed.
func (p *Pilot) Step() (bool, error) {
	vx, wz, err := p.source.Velocity()
	if err != nil {
		return false, fmt.Errorf("read velocity: %w", err)
	}
	if vx == p.prevVX && wz == p.prevWZ {
		p.skipped.Add(1)
		return false, nil
	}

	cmd := &protocol.Twist2D{
		Utime: p.opts.Now().UnixMicro(),
		VX:    vx * p.opts.VXScale,
		WZ:    wz * p.opts.WZScale,
	}
	if err := p.sender.Send(p.opts.RobotID, cmd); err != nil {
		return false, fmt.Errorf("send velocity command: %w", err)
	}

	p.prevVX, p.prevWZ = vx, wz
	p.moving = vx != 0 || wz != 0
	p.sent.Add(1)
	logging.Debug("Velocity command sent",
		zap.Uint8("robot_id", p.opts.RobotID),
		zap.Float32("vx", cmd.VX),
		zap.Float32("wz", cmd.WZ),
	)
	return true, nil
}

// Run calls Step every period until ctx is done or sending fails. If the
// robot was left moving, a zero command is sent on the way out.
func (p *Pilot) Run(ctx context.Context) error {
	logging.Info("Pilot started",
		zap.Uint8("robot_id", p.opts.RobotID),
		zap.Duration("period", p.opts.Period),
	)

	ticker := time.NewTicker(p.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.stop()
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Step(); err != nil {
				if protocol.IsFatal(err) {
					return err
				}
				logging.Warn("Pilot step failed", zap.Error(err))
			}
		}
	}
}

func (p *Pilot) stop() {
	if !p.moving {
		return
	}
	halt := &protocol.Twist2D{Utime: p.opts.Now().UnixMicro()}
	if err := p.sender.Send(p.opts.RobotID, halt); err != nil {
		logging.Warn("Failed to send stop command", zap.Error(err))
		return
	}
	p.moving = false
	logging.Info("Pilot stopped robot", zap.Uint8("robot_id", p.opts.RobotID))
}

// Sent returns how many commands have been written.
func (p *Pilot) Sent() uint64 { return p.sent.Load() }

// Skipped returns how many samples were unchanged and not sent.
func (p *Pilot) Skipped() uint64 { return p.skipped.Load() }

// Oscillator is a VelocitySource that sweeps vx back and forth by Step
// each reading, reversing once |vx| exceeds Limit. wz stays zero. It is
// useful for exercising a drive train without a joystick.
type Oscillator struct {
	Step  float32
	Limit float32
	vx    float32
}

// NewOscillator returns an Oscillator stepping 0.1 with limit 0.4.
func NewOscillator() *Oscillator {
	return &Oscillator{Step: 0.1, Limit: 0.4}
}

// Velocity advances the sweep and returns the new value.
func (o *Oscillator) Velocity() (float32, float32, error) {
	o.vx += o.Step
	if o.vx > o.Limit || o.vx < -o.Limit {
		o.Step = -o.Step
	}
	return o.vx, 0, nil
}

// Constant is a VelocitySource that always returns the same command.
type Constant struct {
	VX, WZ float32
}

// Velocity returns c's fields.
func (c Constant) Velocity() (float32, float32, error) { return c.VX, c.WZ, nil }
