package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventObjectOmitsZeroFields(t *testing.T) {
	e := Event{Kind: EventAllotmentCreated, ScheduleID: "0xabc", Beneficiary: "alice", Amount: "10", ReleaseTime: 5}

	assert.Equal(t, Object{
		"kind":         "AllotmentCreated",
		"schedule_id":  "0xabc",
		"beneficiary":  "alice",
		"amount":       "10",
		"release_time": int64(5),
	}, e.Object())
}

func TestRecorderDrain(t *testing.T) {
	r := NewRecorder()
	assert.Equal(t, []Event{}, r.Drain())

	r.Emit(Event{Kind: EventTransfer})
	r.Emit(Event{Kind: EventAllotmentReleased})
	assert.Equal(t, 1, r.Count(EventTransfer))
	assert.Len(t, r.Events(), 2)

	drained := r.Drain()
	assert.Equal(t, EventTransfer, drained[0].Kind)
	assert.Equal(t, EventAllotmentReleased, drained[1].Kind)
	assert.Empty(t, r.Events())
}
