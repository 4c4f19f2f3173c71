// Package clock contains the time source used to stamp packets.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Timestamp is a clock reading.
type Timestamp = time.Time

// Clock supplies timestamps that never decrease.
type Clock interface {
	Now() Timestamp
}

var defaultClock = NewMonotonic()

// Default returns the process-wide monotonic clock.
func Default() Clock {
	return defaultClock
}

// Monotonic is a clock backed by the monotonic reading of the runtime.
// Readings taken in sequence, even from different goroutines,
// never go backwards.
type Monotonic struct {
	base time.Time

	// last is the greatest offset from base handed out so far
	last atomic.Int64
}

// NewMonotonic returns a new monotonic clock.
func NewMonotonic() *Monotonic {
	return &Monotonic{
		base: time.Now(),
	}
}

// Now returns the current reading.
func (m *Monotonic) Now() Timestamp {
	elapsed := int64(time.Since(m.base))

	for {
		last := m.last.Load()
		if elapsed <= last {
			return m.base.Add(time.Duration(last))
		}

		if m.last.CompareAndSwap(last, elapsed) {
			return m.base.Add(time.Duration(elapsed))
		}
	}
}

// Manual is a clock that only moves when told to.
// It is meant for tests.
type Manual struct {
	mux sync.Mutex
	now time.Time
}

// NewManual returns a manual clock set at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now: start,
	}
}

// Now returns the current reading.
func (m *Manual) Now() Timestamp {
	m.mux.Lock()
	defer m.mux.Unlock()

	return m.now
}

// Advance moves the clock forward by d.
// Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}

	m.mux.Lock()
	m.now = m.now.Add(d)
	m.mux.Unlock()
}
