package procession

import "encoding/json"

// emptyKey substitutes for a label id that cannot be resolved back to a
// key. That should not occur in a well-formed series, but traversal
// degrades to an unnamed key rather than failing.
var emptyKey = Key{}

// MetricRef is a single event borrowed from a Procession. The key points
// into the live label table, so constructing one allocates nothing, but the
// value must not outlive the series it came from.
type MetricRef struct {
	// When is the absolute event time in Unix milliseconds.
	When int64
	// Entry is the type and value recorded for the key.
	Entry Entry
	// Key is the resolved metric key, borrowed from the label table.
	Key *Key
}

// Metric is a single event cloned out of a Procession: fully
// self-describing, independently serializable, and valid after the source
// series is gone. It is the flattened logical-event interchange form.
type Metric struct {
	// When is the absolute event time in Unix milliseconds.
	When int64 `json:"when"`
	// Entry is the type and value recorded for the key.
	Entry Entry `json:"event"`
	// Key is the metric name.
	Key string `json:"key"`
	// Labels are the key's label pairs.
	Labels []Label `json:"-"`
}

// metricJSON carries the wire form of Metric with labels as [k,v] tuples.
type metricJSON struct {
	When   int64       `json:"when"`
	Entry  *Entry      `json:"event"`
	Key    *string     `json:"key"`
	Labels []labelPair `json:"labels"`
}

// MarshalJSON encodes the metric in the flattened interchange form.
func (m Metric) MarshalJSON() ([]byte, error) {
	key := m.Key
	entry := m.Entry
	return json.Marshal(metricJSON{
		When:   m.When,
		Entry:  &entry,
		Key:    &key,
		Labels: labelPairs(m.Labels),
	})
}

// UnmarshalJSON decodes the flattened interchange form. A missing event or
// key field is a hard error.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var raw metricJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Entry == nil {
		return newDecodeError("metric", errMissingField("event"))
	}
	if raw.Key == nil {
		return newDecodeError("metric", errMissingField("key"))
	}
	m.When = raw.When
	m.Entry = *raw.Entry
	m.Key = *raw.Key
	m.Labels = pairLabels(raw.Labels)
	return nil
}

// Owned clones the referenced event into an independent Metric.
func (r MetricRef) Owned() Metric {
	m := Metric{When: r.When, Entry: r.Entry, Key: r.Key.Name()}
	if labels := r.Key.Labels(); len(labels) > 0 {
		m.Labels = append([]Label(nil), labels...)
	}
	return m
}

// EqualRef reports whether an owned metric and a borrowed reference
// describe the same logical event: same timestamp, value, key name, and
// label set regardless of label order.
func (m Metric) EqualRef(r MetricRef) bool {
	return m.When == r.When &&
		m.Entry.Equal(r.Entry) &&
		m.Key == r.Key.Name() &&
		labelsEqualUnordered(m.Labels, r.Key.Labels())
}

// Equal reports whether two owned metrics describe the same logical event.
func (m Metric) Equal(other Metric) bool {
	return m.When == other.When &&
		m.Entry.Equal(other.Entry) &&
		m.Key == other.Key &&
		labelsEqualUnordered(m.Labels, other.Labels)
}

// Iter walks a Procession chunk by chunk, event by event, in append order,
// yielding borrowed references into the live series. The walk is finite
// and a fresh Iter can be created from the same series any number of
// times. The series must not be mutated while an Iter is in use; iterate
// under Recorder.View or over a Recorder.Snapshot.
type Iter struct {
	p     *Procession
	chunk int
	event int
}

// Iter returns a borrowed iterator over every recorded event.
func (p *Procession) Iter() *Iter {
	return &Iter{p: p}
}

// Next returns the next event, or false when the walk is exhausted.
func (it *Iter) Next() (MetricRef, bool) {
	for it.chunk < len(it.p.Chunks) {
		chunk := &it.p.Chunks[it.chunk]
		if it.event < len(chunk.Events) {
			ev := chunk.Events[it.event]
			it.event++
			ref := MetricRef{
				When:  chunk.ReferenceTime + int64(ev.MS),
				Entry: ev.Entry,
				Key:   &emptyKey,
			}
			if int(ev.Label) < len(it.p.Labels.entries) {
				ref.Key = &it.p.Labels.entries[ev.Label]
			}
			return ref, true
		}
		it.chunk++
		it.event = 0
	}
	return MetricRef{}, false
}

// OwnedIter walks a Procession in the same order as Iter but clones each
// event out of the series, re-allocating the key name and labels.
type OwnedIter struct {
	it Iter
}

// IterOwned returns an owned iterator over every recorded event.
func (p *Procession) IterOwned() *OwnedIter {
	return &OwnedIter{it: Iter{p: p}}
}

// Next returns the next owned event, or false when the walk is exhausted.
func (oi *OwnedIter) Next() (Metric, bool) {
	ref, ok := oi.it.Next()
	if !ok {
		return Metric{}, false
	}
	return ref.Owned(), true
}

// Metrics collects every recorded event as owned logical events.
func (p *Procession) Metrics() []Metric {
	out := make([]Metric, 0, p.eventCount())
	oi := p.IterOwned()
	for m, ok := oi.Next(); ok; m, ok = oi.Next() {
		out = append(out, m)
	}
	return out
}

func (p *Procession) eventCount() int {
	n := 0
	for i := range p.Chunks {
		n += len(p.Chunks[i].Events)
	}
	return n
}
