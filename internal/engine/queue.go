package engine

import (
	"sync"

	"github.com/roach88/allotment/internal/ir"
)

// Result is the outcome of a submitted request.
type Result struct {
	Completion ir.Completion
	Err        error
}

// pending is a queued request and the channel its result goes to.
type pending struct {
	req   Request
	reply chan Result
}

// requestQueue is a thread-safe FIFO queue of pending requests.
//
// The queue is unbounded so that submitters never block on a slow journal.
// It uses a channel for signaling to enable context-aware waiting in the Run
// loop.
type requestQueue struct {
	mu      sync.Mutex
	pending []pending
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		pending: make([]pending, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a request to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(p pending) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, p)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front request without blocking.
func (q *requestQueue) TryDequeue() (pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return pending{}, false
	}
	p := q.pending[0]

	// Clear the slot so the array does not retain the reply channel.
	q.pending[0] = pending{}
	if len(q.pending) == 1 {
		q.pending = q.pending[:0]
	} else {
		q.pending = q.pending[1:]
	}
	return p, true
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed once the queue is closed.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close signals that no more requests will be enqueued and wakes waiters.
func (q *requestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes every queued request. Used on shutdown to fail leftovers.
func (q *requestQueue) Drain() []pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}
