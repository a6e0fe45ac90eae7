package dispatch

import (
	"sync"
	"time"
)

// Latest is a single-slot, mutex-guarded cell holding the most recent value
// of T. A reader goroutine Sets it and any number of consumers Get it, which
// replaces shared package-level buffers between a reader and a renderer.
type Latest[T any] struct {
	mu      sync.Mutex
	value   T
	set     bool
	seq     uint64
	updated time.Time
}

// Set stores v as the latest value.
func (l *Latest[T]) Set(v T) {
	l.mu.Lock()
	l.value = v
	l.set = true
	l.seq++
	l.updated = time.Now()
	l.mu.Unlock()
}

// Get returns the latest value and whether one has been stored.
func (l *Latest[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.set
}

// Seq returns how many times Set has been called; consumers compare it to
// detect fresh data.
func (l *Latest[T]) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Updated returns when the value was last stored (zero if never).
func (l *Latest[T]) Updated() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updated
}
