package engine

import "sync/atomic"

// Sequencer is the monotonic logical clock stamping journal records.
//
// Thread-safety: Sequencer is safe for concurrent use (atomic operations).
// However, the Engine's single-writer design means only one goroutine
// typically calls Next().
type Sequencer struct {
	seq atomic.Int64
}

// NewSequencer creates a sequencer starting at 0.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// NewSequencerAt creates a sequencer starting at a specific sequence number.
func NewSequencerAt(start int64) *Sequencer {
	s := &Sequencer{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (s *Sequencer) Current() int64 {
	return s.seq.Load()
}

// Rewind undoes the most recent Next. Used when a request is rejected after
// its seq was drawn but before anything was journaled.
func (s *Sequencer) Rewind() {
	s.seq.Add(-1)
}
