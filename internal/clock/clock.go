// Package clock provides the time source consulted by the allotment manager.
//
// Release checks never read the wall clock directly. Production code uses
// System; the engine drives a Manual clock so that every journaled operation
// observes exactly the time recorded with it, and replay sees the same time.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock truncated to whole seconds.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Manual is a clock that only moves when told to.
//
// Thread-safety: Manual is safe for concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC().Truncate(time.Second)}
}

// NewManualUnix creates a manual clock set to unix seconds.
func NewManualUnix(sec int64) *Manual {
	return NewManual(time.Unix(sec, 0))
}

// Now implements Clock.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed; callers that need
// monotonic time enforce it themselves.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC().Truncate(time.Second)
}

// SetUnix moves the clock to unix seconds.
func (m *Manual) SetUnix(sec int64) {
	m.Set(time.Unix(sec, 0))
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d).Truncate(time.Second)
	return m.now
}
