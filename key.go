package procession

import (
	"sort"
	"strings"
)

// Label is a single name/value pair attached to a metric key.
type Label struct {
	Key   string
	Value string
}

// Key uniquely identifies a metric by its name and label set. Two keys with
// the same name and the same label pairs are equal regardless of the order
// the pairs were supplied in; labels are sorted at construction time.
type Key struct {
	name   string
	labels []Label
}

// NewKey creates a Key from a metric name and label pairs. The labels are
// copied and canonically ordered so the resulting key can be compared and
// used for interning without regard to input order.
func NewKey(name string, labels ...Label) Key {
	k := Key{name: name}
	if len(labels) > 0 {
		k.labels = make([]Label, len(labels))
		copy(k.labels, labels)
		sortLabels(k.labels)
	}
	return k
}

func sortLabels(labels []Label) {
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Key != labels[j].Key {
			return labels[i].Key < labels[j].Key
		}
		return labels[i].Value < labels[j].Value
	})
}

// Name returns the metric name.
func (k Key) Name() string { return k.name }

// Labels returns the canonically ordered label pairs. The returned slice
// must not be modified.
func (k Key) Labels() []Label { return k.labels }

// keyEscaper escapes the canonical form's separator characters so two
// distinct keys can never share a canonical string, e.g. a metric named
// "a|b=c" versus metric "a" with label b=c.
var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "=", `\=`, ",", `\,`)

// String returns a canonical string representation of the key. The format
// is "name|key1=val1,key2=val2" with labels in canonical order and
// separator characters escaped. It is used as the interning map key and
// should produce consistent output.
func (k Key) String() string {
	if len(k.labels) == 0 {
		return keyEscaper.Replace(k.name)
	}

	var b strings.Builder
	b.WriteString(keyEscaper.Replace(k.name))
	b.WriteByte('|')
	for i, l := range k.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(l.Key))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(l.Value))
	}
	return b.String()
}

// Equal reports whether two keys have the same name and label set.
func (k Key) Equal(other Key) bool {
	if k.name != other.name || len(k.labels) != len(other.labels) {
		return false
	}
	for i, l := range k.labels {
		if other.labels[i] != l {
			return false
		}
	}
	return true
}

// labelsEqualUnordered reports whether two label slices contain the same
// pairs regardless of order. Used when one side may not be canonically
// sorted, e.g. labels decoded from an external interchange form.
func labelsEqualUnordered(a, b []Label) bool {
	if len(a) != len(b) {
		return false
	}
	for _, l := range a {
		found := false
		for _, o := range b {
			if l == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
