package procession

import (
	"time"
	"unsafe"
)

// Procession is a time series of metrics collected over some length of
// time: an ordered sequence of chunks, each covering a ~65 second window,
// plus the set of all interned metric keys. It is append-only; no event or
// label entry is ever deleted or mutated in place.
//
// A Procession is not safe for concurrent use on its own; wrap it in a
// Recorder for shared access.
type Procession struct {
	// Chunks are the recorded windows in non-decreasing reference time
	// order.
	Chunks []Chunk `json:"chunks"`
	// Labels is the set of all unique keys seen by this series.
	Labels LabelSet `json:"labels"`
}

// EnsureLabel interns the key into this series' label set and returns its
// id.
func (p *Procession) EnsureLabel(k Key) uint16 {
	return p.Labels.Ensure(k)
}

// Insert appends a new entry to the last (or newly created last) chunk,
// stamped with the current wall-clock time.
func (p *Procession) Insert(e Entry, label uint16) {
	p.insertAt(e, label, time.Now().UnixMilli())
}

// insertAt appends an entry using the provided Unix millisecond timestamp.
// If there is no chunk yet, or more than 65535 ms have elapsed since the
// last chunk's reference time, a new chunk is started at now with offset 0.
// An insert exactly 65535 ms after the reference time still lands in the
// current chunk. A timestamp before the current reference time clamps to
// offset 0 rather than rolling over.
func (p *Procession) insertAt(e Entry, label uint16, now int64) {
	if len(p.Chunks) == 0 {
		p.Chunks = append(p.Chunks, Chunk{ReferenceTime: now})
	}
	last := &p.Chunks[len(p.Chunks)-1]
	elapsed := now - last.ReferenceTime
	if elapsed > maxChunkOffset {
		p.Chunks = append(p.Chunks, Chunk{ReferenceTime: now})
		last = &p.Chunks[len(p.Chunks)-1]
		elapsed = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	last.push(Event{Entry: e, MS: uint16(elapsed), Label: label})
}

// MemorySize is a best-effort estimate of the bytes held by the current
// state. Strings shared between label entries are counted once per call.
// The number is an estimate, not a contract; the only guarantee is that it
// grows monotonically as events and labels are inserted.
func (p *Procession) MemorySize() int {
	seen := make(map[string]struct{})
	countOnce := func(s string) int {
		if _, ok := seen[s]; ok {
			return 0
		}
		seen[s] = struct{}{}
		return len(s)
	}

	size := int(unsafe.Sizeof(*p))
	keySize := func(k Key) int {
		n := int(unsafe.Sizeof(k)) + int(unsafe.Sizeof(uint16(0)))
		n += countOnce(k.Name())
		for _, l := range k.Labels() {
			n += int(unsafe.Sizeof(l))
			n += countOnce(l.Key)
			n += countOnce(l.Value)
		}
		return n
	}
	for _, k := range p.Labels.entries {
		size += keySize(k)
	}
	for _, k := range p.Labels.overflow {
		size += keySize(k)
	}
	for i := range p.Chunks {
		size += p.Chunks[i].memorySize()
	}
	return size
}

// Equal reports whether two processions hold the same chunks and the same
// label set with the same id assignment.
func (p *Procession) Equal(other *Procession) bool {
	if len(p.Chunks) != len(other.Chunks) {
		return false
	}
	for i := range p.Chunks {
		if !p.Chunks[i].Equal(&other.Chunks[i]) {
			return false
		}
	}
	return p.Labels.Equal(&other.Labels)
}

// Clone returns a deep copy sharing no mutable state with the original.
func (p *Procession) Clone() *Procession {
	out := &Procession{Labels: p.Labels.clone()}
	if len(p.Chunks) > 0 {
		out.Chunks = make([]Chunk, len(p.Chunks))
		for i, c := range p.Chunks {
			out.Chunks[i] = Chunk{
				ReferenceTime: c.ReferenceTime,
				Events:        append([]Event(nil), c.Events...),
			}
		}
	}
	return out
}

// FromMetrics rebuilds a Procession from an ordered sequence of logical
// events by interning each event's key and appending through the normal
// insert path. Chunk placement uses each event's own carried timestamp, so
// a serialize-to-logical-events round trip preserves the original timing
// rather than collapsing onto ingestion time.
//
// Label ids are assigned in event order, which may differ from the source
// series if keys were registered before their first event; the logical
// events themselves are preserved exactly.
func FromMetrics(metrics []Metric) *Procession {
	p := &Procession{}
	for _, m := range metrics {
		label := p.EnsureLabel(NewKey(m.Key, m.Labels...))
		p.insertAt(m.Entry, label, m.When)
	}
	return p
}
