package teleop

import "sync"

// Stick is a virtual joystick position with both axes in [-1, 1]. It is safe
// for concurrent use: the keyboard model writes it and the pilot reads it.
type Stick struct {
	mu     sync.Mutex
	step   float32
	vx, wz float32
}

// NewStick returns a centred stick that moves by step per key press.
func NewStick(step float32) *Stick {
	if step <= 0 || step > 1 {
		step = 0.1
	}
	return &Stick{step: step}
}

// Nudge moves the stick by dvx and dwz steps, clamping each axis.
func (s *Stick) Nudge(dvx, dwz int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vx = clamp(s.vx + float32(dvx)*s.step)
	s.wz = clamp(s.wz + float32(dwz)*s.step)
}

// Centre returns both axes to zero.
func (s *Stick) Centre() {
	s.mu.Lock()
	s.vx, s.wz = 0, 0
	s.mu.Unlock()
}

// Velocity implements pilot.VelocitySource.
func (s *Stick) Velocity() (float32, float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vx, s.wz, nil
}

// clamp limits v to [-1, 1] and snaps float drift around zero back to zero,
// so that stepping up and back down lands on an exact stop.
func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	case v > -1e-4 && v < 1e-4:
		return 0
	}
	return v
}
