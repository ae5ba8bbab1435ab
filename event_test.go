package procession

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestOpJSONRoundTrip(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{OpAdd, `"Add"`},
		{OpSub, `"Sub"`},
		{OpSet, `"Set"`},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			data, err := json.Marshal(tt.op)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}
			var got Op
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got != tt.op {
				t.Errorf("round trip = %v, want %v", got, tt.op)
			}
		})
	}
}

func TestOpUnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown name", `"Mul"`},
		{"number", `1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var op Op
			err := json.Unmarshal([]byte(tt.data), &op)
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("Unmarshal(%s) error = %v, want ErrMalformedInput", tt.data, err)
			}
		})
	}
}

func TestEntryJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{
			name:  "counter add",
			entry: CounterEntry(3, OpAdd),
			want:  `{"event":"Counter","value":3,"op":"Add"}`,
		},
		{
			name:  "counter set max",
			entry: CounterEntry(math.MaxUint32, OpSet),
			want:  `{"event":"Counter","value":4294967295,"op":"Set"}`,
		},
		{
			name:  "gauge set",
			entry: GaugeEntry(1.5, OpSet),
			want:  `{"event":"Gauge","value":1.5,"op":"Set"}`,
		},
		{
			name:  "gauge sub",
			entry: GaugeEntry(5, OpSub),
			want:  `{"event":"Gauge","value":5,"op":"Sub"}`,
		},
		{
			name:  "histogram",
			entry: HistogramEntry(2.5),
			want:  `{"event":"Histogram","value":2.5}`,
		},
		{
			name:  "gauge nan",
			entry: GaugeEntry(float32(math.NaN()), OpSet),
			want:  `{"event":"Gauge","value":"NaN","op":"Set"}`,
		},
		{
			name:  "histogram positive infinity",
			entry: HistogramEntry(float32(math.Inf(1))),
			want:  `{"event":"Histogram","value":"Inf"}`,
		},
		{
			name:  "histogram negative infinity",
			entry: HistogramEntry(float32(math.Inf(-1))),
			want:  `{"event":"Histogram","value":"-Inf"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.entry)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal() = %s, want %s", data, tt.want)
			}
			var got Entry
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !got.Equal(tt.entry) {
				t.Errorf("round trip = %+v, want %+v", got, tt.entry)
			}
		})
	}
}

func TestEntryUnmarshalInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing tag", `{"value":3,"op":"Add"}`},
		{"unknown tag", `{"event":"Summary","value":3,"op":"Add"}`},
		{"counter missing op", `{"event":"Counter","value":3}`},
		{"gauge missing op", `{"event":"Gauge","value":1.5}`},
		{"missing value", `{"event":"Counter","op":"Add"}`},
		{"counter value negative", `{"event":"Counter","value":-1,"op":"Add"}`},
		{"counter value too large", `{"event":"Counter","value":4294967296,"op":"Add"}`},
		{"counter value fractional", `{"event":"Counter","value":1.5,"op":"Add"}`},
		{"gauge value not a number", `{"event":"Gauge","value":"huge","op":"Set"}`},
		{"not an object", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Entry
			err := json.Unmarshal([]byte(tt.data), &e)
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("Unmarshal(%s) error = %v, want ErrMalformedInput", tt.data, err)
			}
		})
	}
}

func TestEntryEqual(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name string
		a, b Entry
		want bool
	}{
		{"same counter", CounterEntry(3, OpAdd), CounterEntry(3, OpAdd), true},
		{"counter op differs", CounterEntry(3, OpAdd), CounterEntry(3, OpSet), false},
		{"counter value differs", CounterEntry(3, OpAdd), CounterEntry(4, OpAdd), false},
		{"kind differs", CounterEntry(3, OpAdd), GaugeEntry(3, OpAdd), false},
		{"gauge nan equals nan", GaugeEntry(nan, OpSet), GaugeEntry(nan, OpSet), true},
		{"histogram nan equals nan", HistogramEntry(nan), HistogramEntry(nan), true},
		{"gauge nan not value", GaugeEntry(nan, OpSet), GaugeEntry(1, OpSet), false},
		{"same histogram", HistogramEntry(2.5), HistogramEntry(2.5), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Equal(tt.a); got != tt.want {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntryString(t *testing.T) {
	tests := []struct {
		entry Entry
		want  string
	}{
		{CounterEntry(3, OpAdd), "Counter Add(3)"},
		{GaugeEntry(1.5, OpSet), "Gauge Set(1.5)"},
		{HistogramEntry(2.5), "Histogram(2.5)"},
	}

	for _, tt := range tests {
		if got := tt.entry.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
