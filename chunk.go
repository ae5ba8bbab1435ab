package procession

import "unsafe"

// maxChunkOffset is the largest millisecond offset an event can carry,
// bounding each chunk to a ~65.5 second window.
const maxChunkOffset = 65535

// Chunk holds all events recorded from its reference time through 65535
// milliseconds after it. Events carry only a 16-bit offset from the
// reference time, so one full timestamp is stored per window rather than
// per event.
type Chunk struct {
	// ReferenceTime is the start of this chunk's window in Unix
	// milliseconds.
	ReferenceTime int64 `json:"reference_time"`
	// Events are the events recorded within the window, in append order.
	Events []Event `json:"events"`
}

// push appends an event to this chunk.
func (c *Chunk) push(ev Event) {
	c.Events = append(c.Events, ev)
}

// memorySize is a naive estimate of the bytes held by this chunk.
func (c *Chunk) memorySize() int {
	return int(unsafe.Sizeof(*c)) + len(c.Events)*int(unsafe.Sizeof(Event{}))
}

// Equal reports whether two chunks hold the same reference time and the
// same events in the same order.
func (c *Chunk) Equal(other *Chunk) bool {
	if c.ReferenceTime != other.ReferenceTime || len(c.Events) != len(other.Events) {
		return false
	}
	for i, ev := range c.Events {
		o := other.Events[i]
		if ev.MS != o.MS || ev.Label != o.Label || !ev.Entry.Equal(o.Entry) {
			return false
		}
	}
	return true
}
