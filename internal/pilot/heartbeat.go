package pilot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbotlink/mbotlink/internal/logging"
	"github.com/mbotlink/mbotlink/internal/protocol"
	"go.uber.org/zap"
)

// DefaultHeartbeatPeriod is the timesync interval used by the command link.
const DefaultHeartbeatPeriod = 500 * time.Millisecond

// Heartbeat sends a Timestamp on topic 201 to every target robot each period.
type Heartbeat struct {
	sender  Sender
	period  time.Duration
	targets func() []uint8
	now     func() time.Time
}

// NewHeartbeat creates a heartbeat. targets is consulted on every beat so
// robots that join or leave are picked up; nil means robot 0 only.
func NewHeartbeat(sender Sender, period time.Duration, targets func() []uint8) *Heartbeat {
	if period <= 0 {
		period = DefaultHeartbeatPeriod
	}
	if targets == nil {
		targets = func() []uint8 { return []uint8{0} }
	}
	return &Heartbeat{sender: sender, period: period, targets: targets, now: time.Now}
}

// Beat sends one timestamp to each target. Every target is attempted; the
// returned error joins any failures.
func (h *Heartbeat) Beat() error {
	var errs []error
	for _, id := range h.targets() {
		ts := &protocol.Timestamp{Utime: h.now().UnixMicro()}
		if err := h.sender.Send(id, ts); err != nil {
			errs = append(errs, fmt.Errorf("heartbeat to robot %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Run beats every period until ctx is done or the sink closes.
func (h *Heartbeat) Run(ctx context.Context) error {
	logging.Debug("Heartbeat started", zap.Duration("period", h.period))

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.Beat(); err != nil {
				if protocol.IsFatal(err) {
					return err
				}
				logging.Warn("Heartbeat failed", zap.Error(err))
			}
		}
	}
}
