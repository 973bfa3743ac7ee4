package ir

import "sync"

// EventKind names an observable event.
type EventKind string

// Observable events.
const (
	EventRoleGranted         EventKind = "RoleGranted"
	EventTransfer            EventKind = "Transfer"
	EventAllotmentCreated    EventKind = "AllotmentCreated"
	EventReleaseTimeExtended EventKind = "ReleaseTimeExtended"
	EventAllotmentReleased   EventKind = "AllotmentReleased"
)

// Event is an observable state change. Only the fields relevant to the kind
// are set; the rest stay zero and are omitted from JSON.
type Event struct {
	Kind        EventKind  `json:"kind"`
	Role        string     `json:"role,omitempty"`
	Account     Account    `json:"account,omitempty"`
	Sender      Account    `json:"sender,omitempty"`
	ScheduleID  ScheduleID `json:"schedule_id,omitempty"`
	Beneficiary Account    `json:"beneficiary,omitempty"`
	Custody     Account    `json:"custody,omitempty"`
	From        Account    `json:"from,omitempty"`
	To          Account    `json:"to,omitempty"`
	Amount      string     `json:"amount,omitempty"` // base units, decimal
	ReleaseTime int64      `json:"release_time,omitempty"`
}

// Object converts the event to a canonical-JSON-compatible object.
func (e Event) Object() Object {
	obj := Object{"kind": string(e.Kind)}
	put := func(key, val string) {
		if val != "" {
			obj[key] = val
		}
	}
	put("role", e.Role)
	put("account", string(e.Account))
	put("sender", string(e.Sender))
	put("schedule_id", string(e.ScheduleID))
	put("beneficiary", string(e.Beneficiary))
	put("custody", string(e.Custody))
	put("from", string(e.From))
	put("to", string(e.To))
	put("amount", e.Amount)
	if e.ReleaseTime != 0 {
		obj["release_time"] = e.ReleaseTime
	}
	return obj
}

// EventSink receives events after the emitting operation has committed.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(e Event) {
	f(e)
}

// DiscardEvents is an EventSink that drops everything.
var DiscardEvents EventSink = EventSinkFunc(func(Event) {})

// Recorder is an EventSink that buffers events until drained.
//
// Thread-safety: Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements EventSink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Drain returns buffered events in emission order and empties the buffer.
// Returns an empty slice (not nil) when nothing was recorded.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	if out == nil {
		out = []Event{}
	}
	return out
}

// Events returns a copy of the buffered events without draining.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many buffered events have the given kind.
func (r *Recorder) Count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
