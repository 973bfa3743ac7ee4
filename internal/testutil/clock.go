package testutil

import "sync"

// Timeline hands out monotonic operation times in unix seconds.
//
// Requests submitted from a test loop take their At from Next so the
// journal never sees time move backwards. Reset rewinds to the start so a
// scenario can be replayed with identical times.
type Timeline struct {
	mu    sync.Mutex
	start int64
	step  int64
	at    int64
}

// NewTimeline creates a timeline whose first Next returns start.
// A step below one is treated as one second.
func NewTimeline(start, step int64) *Timeline {
	if step < 1 {
		step = 1
	}
	return &Timeline{start: start, step: step, at: start - step}
}

// Next advances by one step and returns the new time.
func (c *Timeline) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at += c.step
	return c.at
}

// Current returns the last time handed out, or start minus one step before
// the first Next.
func (c *Timeline) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Reset rewinds the timeline. The next call to Next returns start.
func (c *Timeline) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.start - c.step
}
