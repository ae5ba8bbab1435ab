package procession

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Op is the write operation carried by a counter or gauge entry.
type Op uint8

const (
	// OpAdd applies the value as a delta increment.
	OpAdd Op = iota
	// OpSub applies the value as a delta decrement. Only valid for gauges.
	OpSub
	// OpSet overwrites with an absolute value.
	OpSet
)

// String returns the canonical name of the operation.
func (o Op) String() string {
	switch o {
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpSet:
		return "Set"
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// MarshalJSON encodes the operation as its canonical name.
func (o Op) MarshalJSON() ([]byte, error) {
	switch o {
	case OpAdd, OpSub, OpSet:
		return json.Marshal(o.String())
	}
	return nil, fmt.Errorf("%w: unknown op %d", ErrMalformedInput, uint8(o))
}

// UnmarshalJSON decodes an operation from its canonical name.
func (o *Op) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: op must be a string: %v", ErrMalformedInput, err)
	}
	switch s {
	case "Add":
		*o = OpAdd
	case "Sub":
		*o = OpSub
	case "Set":
		*o = OpSet
	default:
		return fmt.Errorf("%w: unknown op %q", ErrMalformedInput, s)
	}
	return nil
}

// EntryKind discriminates the metric type of an Entry.
type EntryKind uint8

const (
	// KindCounter is a monotonic counter event carrying a uint32 value.
	KindCounter EntryKind = iota
	// KindGauge is a gauge event carrying a float32 value.
	KindGauge
	// KindHistogram is a histogram sample carrying a float32 value.
	KindHistogram
)

// String returns the canonical name of the entry kind.
func (k EntryKind) String() string {
	switch k {
	case KindCounter:
		return "Counter"
	case KindGauge:
		return "Gauge"
	case KindHistogram:
		return "Histogram"
	}
	return fmt.Sprintf("EntryKind(%d)", uint8(k))
}

// Entry is the type and value of a single recorded metrics event, stored in
// its most compact form. Counters carry a uint32 value, gauges and
// histograms a float32; histograms have no operation, every record is an
// independent sample.
type Entry struct {
	Kind EntryKind
	// Op is the write operation for counters and gauges. Unused for
	// histograms.
	Op Op
	// Count is the value for counter entries.
	Count uint32
	// Value is the value for gauge and histogram entries.
	Value float32
}

// CounterEntry creates a counter entry with the given value and operation.
func CounterEntry(value uint32, op Op) Entry {
	return Entry{Kind: KindCounter, Op: op, Count: value}
}

// GaugeEntry creates a gauge entry with the given value and operation.
func GaugeEntry(value float32, op Op) Entry {
	return Entry{Kind: KindGauge, Op: op, Value: value}
}

// HistogramEntry creates a histogram sample entry.
func HistogramEntry(value float32) Entry {
	return Entry{Kind: KindHistogram, Value: value}
}

// Equal reports whether two entries are equal. Unlike ==, NaN-valued gauge
// and histogram entries compare equal to each other so serialization round
// trips remain comparable.
func (e Entry) Equal(other Entry) bool {
	if e.Kind != other.Kind {
		return false
	}
	switch e.Kind {
	case KindCounter:
		return e.Op == other.Op && e.Count == other.Count
	case KindGauge:
		return e.Op == other.Op && float32Equal(e.Value, other.Value)
	case KindHistogram:
		return float32Equal(e.Value, other.Value)
	}
	return false
}

func float32Equal(a, b float32) bool {
	if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
		return true
	}
	return a == b
}

// String renders the entry for logs and reports, e.g. "Counter Add(3)".
func (e Entry) String() string {
	switch e.Kind {
	case KindCounter:
		return fmt.Sprintf("Counter %s(%d)", e.Op, e.Count)
	case KindGauge:
		return fmt.Sprintf("Gauge %s(%g)", e.Op, e.Value)
	case KindHistogram:
		return fmt.Sprintf("Histogram(%g)", e.Value)
	}
	return fmt.Sprintf("Entry(%d)", uint8(e.Kind))
}

// entryJSON is the tagged wire shape of an Entry:
//
//	{"event":"Counter","value":3,"op":"Add"}
//	{"event":"Gauge","value":1.5,"op":"Set"}
//	{"event":"Histogram","value":2.5}
//
// Non-finite gauge and histogram values have no JSON number form and are
// written as the strings "NaN", "Inf", and "-Inf".
type entryJSON struct {
	Event string          `json:"event"`
	Value json.RawMessage `json:"value"`
	Op    *Op             `json:"op,omitempty"`
}

// MarshalJSON encodes the entry in its tagged canonical form.
func (e Entry) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindCounter:
		op := e.Op
		return json.Marshal(entryJSON{
			Event: "Counter",
			Value: json.RawMessage(strconv.FormatUint(uint64(e.Count), 10)),
			Op:    &op,
		})
	case KindGauge:
		op := e.Op
		return json.Marshal(entryJSON{
			Event: "Gauge",
			Value: floatValue(e.Value),
			Op:    &op,
		})
	case KindHistogram:
		return json.Marshal(entryJSON{
			Event: "Histogram",
			Value: floatValue(e.Value),
		})
	}
	return nil, fmt.Errorf("%w: unknown entry kind %d", ErrMalformedInput, uint8(e.Kind))
}

// floatValue renders a float32 as a raw JSON value, falling back to quoted
// strings for values JSON numbers cannot represent.
func floatValue(v float32) json.RawMessage {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return json.RawMessage(`"NaN"`)
	case math.IsInf(f, 1):
		return json.RawMessage(`"Inf"`)
	case math.IsInf(f, -1):
		return json.RawMessage(`"-Inf"`)
	}
	return json.RawMessage(strconv.FormatFloat(f, 'g', -1, 32))
}

func parseFloat32(raw json.RawMessage) (float32, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		switch s {
		case "NaN":
			return float32(math.NaN()), nil
		case "Inf":
			return float32(math.Inf(1)), nil
		case "-Inf":
			return float32(math.Inf(-1)), nil
		}
		return 0, fmt.Errorf("unknown float string %q", s)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, err
	}
	return float32(f), nil
}

// UnmarshalJSON decodes an entry from its tagged canonical form. A missing
// or unknown tag, a missing op on counters and gauges, or a counter value
// outside the uint32 range are all hard errors.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(raw.Value) == 0 {
		return fmt.Errorf("%w: value missing from entry", ErrMalformedInput)
	}
	switch raw.Event {
	case "Counter":
		if raw.Op == nil {
			return fmt.Errorf("%w: op missing from counter entry", ErrMalformedInput)
		}
		v, err := strconv.ParseUint(string(raw.Value), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: counter value %q out of range", ErrMalformedInput, raw.Value)
		}
		*e = CounterEntry(uint32(v), *raw.Op)
	case "Gauge":
		if raw.Op == nil {
			return fmt.Errorf("%w: op missing from gauge entry", ErrMalformedInput)
		}
		v, err := parseFloat32(raw.Value)
		if err != nil {
			return fmt.Errorf("%w: gauge value %q: %v", ErrMalformedInput, raw.Value, err)
		}
		*e = GaugeEntry(v, *raw.Op)
	case "Histogram":
		v, err := parseFloat32(raw.Value)
		if err != nil {
			return fmt.Errorf("%w: histogram value %q: %v", ErrMalformedInput, raw.Value, err)
		}
		*e = HistogramEntry(v)
	case "":
		return fmt.Errorf("%w: event tag missing from entry", ErrMalformedInput)
	default:
		return fmt.Errorf("%w: unknown entry tag %q", ErrMalformedInput, raw.Event)
	}
	return nil
}

// Event is a single metrics event in its most compact stored form: the
// entry itself, a millisecond offset from the owning chunk's reference
// time, and the interned label id identifying the metric key.
type Event struct {
	// Entry is the type and value of this event.
	Entry Entry `json:"entry"`
	// MS is the number of milliseconds since the owning chunk's
	// reference time.
	MS uint16 `json:"ms"`
	// Label is the identifier assigned by the owning series' label set.
	Label uint16 `json:"label"`
}
