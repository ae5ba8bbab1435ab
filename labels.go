package procession

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// MaxLabelID is the sentinel id shared by every key interned after the
// 16-bit id space is exhausted. Interning never fails; once 65536 distinct
// keys exist, further keys degrade to this shared id.
const MaxLabelID uint16 = 65535

// LabelSet interns metric keys into dense 16-bit ids. Ids are assigned in
// strict first-seen order, are never reused, and never removed. The zero
// value is ready to use.
type LabelSet struct {
	ids     map[string]uint16
	entries []Key
	// overflow holds keys interned after the id space was exhausted.
	// They all share MaxLabelID but are kept so serialization preserves
	// every key ever seen.
	overflow []Key
}

// Get returns the id previously assigned to the key, if any.
func (ls *LabelSet) Get(k Key) (uint16, bool) {
	id, ok := ls.ids[k.String()]
	return id, ok
}

// Ensure interns the key if it is not already present and returns its id.
// The nth newly seen key receives id n-1. Once the id space is exhausted
// the key is still remembered but receives the shared MaxLabelID sentinel;
// a warning is logged and the caller is never failed.
func (ls *LabelSet) Ensure(k Key) uint16 {
	ck := k.String()
	if id, ok := ls.ids[ck]; ok {
		return id
	}
	if ls.ids == nil {
		ls.ids = make(map[string]uint16)
	}
	if len(ls.entries) > int(MaxLabelID) {
		slog.Warn("label id space exhausted, assigning sentinel id", "key", ck)
		ls.ids[ck] = MaxLabelID
		ls.overflow = append(ls.overflow, k)
		return MaxLabelID
	}
	id := uint16(len(ls.entries))
	ls.ids[ck] = id
	ls.entries = append(ls.entries, k)
	return id
}

// Resolve returns the key assigned the given id. For the sentinel id this
// is the key that legitimately received it, not any of the overflow keys.
func (ls *LabelSet) Resolve(id uint16) (Key, bool) {
	if int(id) >= len(ls.entries) {
		return Key{}, false
	}
	return ls.entries[id], true
}

// Len returns the number of distinct keys interned, including any that
// overflowed onto the sentinel id.
func (ls *LabelSet) Len() int {
	return len(ls.entries) + len(ls.overflow)
}

// Equal reports whether two label sets contain the same keys with the same
// id assignment.
func (ls *LabelSet) Equal(other *LabelSet) bool {
	if len(ls.entries) != len(other.entries) || len(ls.overflow) != len(other.overflow) {
		return false
	}
	for i, k := range ls.entries {
		if !k.Equal(other.entries[i]) {
			return false
		}
	}
	for i, k := range ls.overflow {
		if !k.Equal(other.overflow[i]) {
			return false
		}
	}
	return true
}

// clone returns a deep copy of the label set.
func (ls *LabelSet) clone() LabelSet {
	out := LabelSet{}
	if ls.ids != nil {
		out.ids = make(map[string]uint16, len(ls.ids))
		for k, v := range ls.ids {
			out.ids[k] = v
		}
	}
	out.entries = append([]Key(nil), ls.entries...)
	out.overflow = append([]Key(nil), ls.overflow...)
	return out
}

// labelSetEntry is the persisted shape of one interned key. The label set
// is always serialized as an ordered sequence of these entries, never as a
// keyed map, so reloading reproduces the exact id assignment and keeps
// previously encoded events pointing at the right keys.
type labelSetEntry struct {
	KeyName string      `json:"key_name"`
	Labels  []labelPair `json:"labels"`
	Value   uint16      `json:"value"`
}

// labelPair serializes a Label as a two-element ["key","value"] tuple.
type labelPair Label

// MarshalJSON encodes the pair as a two-element array.
func (lp labelPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{lp.Key, lp.Value})
}

// UnmarshalJSON decodes the pair from a two-element array.
func (lp *labelPair) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: label pair must be a two element array: %v", ErrMalformedInput, err)
	}
	lp.Key, lp.Value = pair[0], pair[1]
	return nil
}

func labelPairs(labels []Label) []labelPair {
	out := make([]labelPair, len(labels))
	for i, l := range labels {
		out[i] = labelPair(l)
	}
	return out
}

func pairLabels(pairs []labelPair) []Label {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]Label, len(pairs))
	for i, p := range pairs {
		out[i] = Label(p)
	}
	return out
}

// MarshalJSON encodes the label set as an ordered sequence of entries in id
// order, with overflow keys trailing under the sentinel id.
func (ls LabelSet) MarshalJSON() ([]byte, error) {
	out := make([]labelSetEntry, 0, ls.Len())
	for i, k := range ls.entries {
		out = append(out, labelSetEntry{
			KeyName: k.Name(),
			Labels:  labelPairs(k.Labels()),
			Value:   uint16(i),
		})
	}
	for _, k := range ls.overflow {
		out = append(out, labelSetEntry{
			KeyName: k.Name(),
			Labels:  labelPairs(k.Labels()),
			Value:   MaxLabelID,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the label set from its ordered persisted form. Any
// entry missing a required field is a hard error; this is the one boundary
// where invalid input is rejected rather than degraded.
func (ls *LabelSet) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: label set must be a sequence: %v", ErrMalformedInput, err)
	}
	*ls = LabelSet{ids: make(map[string]uint16, len(raw))}
	for _, item := range raw {
		var probe struct {
			KeyName *string      `json:"key_name"`
			Labels  *[]labelPair `json:"labels"`
			Value   *uint16      `json:"value"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return fmt.Errorf("%w: label set entry: %v", ErrMalformedInput, err)
		}
		if probe.KeyName == nil {
			return fmt.Errorf("%w: key_name missing from label set entry", ErrMalformedInput)
		}
		if probe.Labels == nil {
			return fmt.Errorf("%w: labels missing from label set entry", ErrMalformedInput)
		}
		if probe.Value == nil {
			return fmt.Errorf("%w: value missing from label set entry", ErrMalformedInput)
		}
		ls.restore(NewKey(*probe.KeyName, pairLabels(*probe.Labels)...), *probe.Value)
	}
	return nil
}

// restore re-inserts a persisted key under its recorded id, keeping the
// entries slice dense and routing overflow keys to the overflow list.
func (ls *LabelSet) restore(k Key, id uint16) {
	if ls.ids == nil {
		ls.ids = make(map[string]uint16)
	}
	ls.ids[k.String()] = id
	if int(id) == len(ls.entries) && len(ls.entries) <= int(MaxLabelID) {
		ls.entries = append(ls.entries, k)
		return
	}
	ls.overflow = append(ls.overflow, k)
}
