package clock

import (
	"sync"
	"time"
)

// Clock is the ledger time source, in unix seconds. The escrow core reads it
// and never mutates it.
type Clock interface {
	Now() int64
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() int64 {
	return time.Now().UTC().Unix()
}

// Monotonic wraps a clock so that readings never go backwards, even when the
// wall clock is stepped.
type Monotonic struct {
	mu    sync.Mutex
	inner Clock
	last  int64
}

// NewMonotonic wraps inner. A nil inner uses the system clock.
func NewMonotonic(inner Clock) *Monotonic {
	if inner == nil {
		inner = NewSystem()
	}
	return &Monotonic{inner: inner}
}

func (m *Monotonic) Now() int64 {
	now := m.inner.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if now < m.last {
		return m.last
	}
	m.last = now
	return now
}

// Manual is a test clock advanced explicitly.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual returns a clock fixed at start.
func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, rounded down to whole seconds.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += int64(d / time.Second)
	m.mu.Unlock()
}

// Set pins the clock. Moving it backwards is ignored.
func (m *Manual) Set(now int64) {
	m.mu.Lock()
	if now > m.now {
		m.now = now
	}
	m.mu.Unlock()
}
