package procession

import (
	"fmt"
	"testing"
	"time"
)

func TestInsertCreatesFirstChunk(t *testing.T) {
	p := &Procession{}
	label := p.EnsureLabel(NewKey("requests"))

	before := time.Now().UnixMilli()
	p.Insert(CounterEntry(1, OpAdd), label)
	after := time.Now().UnixMilli()

	if len(p.Chunks) != 1 {
		t.Fatalf("len(Chunks) = %d, want 1", len(p.Chunks))
	}
	chunk := p.Chunks[0]
	if chunk.ReferenceTime < before || chunk.ReferenceTime > after {
		t.Errorf("ReferenceTime = %d, want within [%d, %d]", chunk.ReferenceTime, before, after)
	}
	if len(chunk.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(chunk.Events))
	}
	if chunk.Events[0].MS != 0 {
		t.Errorf("first event MS = %d, want 0", chunk.Events[0].MS)
	}
	if chunk.Events[0].Label != label {
		t.Errorf("event label = %d, want %d", chunk.Events[0].Label, label)
	}
}

func TestInsertAtChunkRollover(t *testing.T) {
	const ref = int64(1_700_000_000_000)
	tests := []struct {
		name       string
		now        int64
		wantChunks int
		wantMS     uint16
	}{
		{"same instant", ref, 1, 0},
		{"mid window", ref + 30_000, 1, 30_000},
		{"window edge stays", ref + 65_535, 1, 65_535},
		{"one past edge rolls over", ref + 65_536, 2, 0},
		{"far future rolls over", ref + 500_000, 2, 0},
		{"before reference clamps", ref - 100, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Procession{}
			label := p.EnsureLabel(NewKey("m"))
			p.insertAt(CounterEntry(1, OpAdd), label, ref)
			p.insertAt(CounterEntry(2, OpAdd), label, tt.now)

			if len(p.Chunks) != tt.wantChunks {
				t.Fatalf("len(Chunks) = %d, want %d", len(p.Chunks), tt.wantChunks)
			}
			last := p.Chunks[len(p.Chunks)-1]
			ev := last.Events[len(last.Events)-1]
			if ev.MS != tt.wantMS {
				t.Errorf("MS = %d, want %d", ev.MS, tt.wantMS)
			}
			if tt.wantChunks == 2 && last.ReferenceTime != tt.now {
				t.Errorf("new chunk ReferenceTime = %d, want %d", last.ReferenceTime, tt.now)
			}
		})
	}
}

func TestInsertAtRecoversTimestamps(t *testing.T) {
	const ref = int64(1_700_000_000_000)
	p := &Procession{}
	label := p.EnsureLabel(NewKey("m"))

	stamps := []int64{ref, ref + 10, ref + 65_535, ref + 65_536, ref + 131_072}
	for _, ts := range stamps {
		p.insertAt(GaugeEntry(1, OpSet), label, ts)
	}

	var got []int64
	it := p.Iter()
	for ref, ok := it.Next(); ok; ref, ok = it.Next() {
		got = append(got, ref.When)
	}
	if len(got) != len(stamps) {
		t.Fatalf("recovered %d timestamps, want %d", len(got), len(stamps))
	}
	for i, ts := range stamps {
		if got[i] != ts {
			t.Errorf("timestamp %d = %d, want %d", i, got[i], ts)
		}
	}
}

func TestMemorySizeGrows(t *testing.T) {
	p := &Procession{}
	label := p.EnsureLabel(NewKey("requests", Label{Key: "method", Value: "GET"}))
	empty := p.MemorySize()
	if empty <= 0 {
		t.Fatalf("MemorySize() of labeled empty series = %d, want > 0", empty)
	}

	prev := empty
	for i := 0; i < 10; i++ {
		p.Insert(CounterEntry(1, OpAdd), label)
		size := p.MemorySize()
		if size <= prev {
			t.Fatalf("MemorySize() after insert %d = %d, want > %d", i, size, prev)
		}
		prev = size
	}

	withLabel := prev
	p.EnsureLabel(NewKey("another", Label{Key: "host", Value: "server1"}))
	if got := p.MemorySize(); got <= withLabel {
		t.Errorf("MemorySize() after interning = %d, want > %d", got, withLabel)
	}
}

func TestMemorySizeCountsSharedStringsOnce(t *testing.T) {
	shared := &Procession{}
	distinct := &Procession{}
	for i := 0; i < 50; i++ {
		shared.EnsureLabel(NewKey(fmt.Sprintf("metric_%d", i), Label{Key: "very_long_shared_label_key", Value: "very_long_shared_label_value"}))
		distinct.EnsureLabel(NewKey(fmt.Sprintf("metric_%d", i), Label{Key: fmt.Sprintf("very_long_distinct_key_%d", i), Value: fmt.Sprintf("very_long_distinct_value_%d", i)}))
	}
	if s, d := shared.MemorySize(), distinct.MemorySize(); s >= d {
		t.Errorf("shared label strings sized %d, distinct %d; shared should be smaller", s, d)
	}
}

func TestProcessionEqual(t *testing.T) {
	build := func() *Procession {
		p := &Procession{}
		a := p.EnsureLabel(NewKey("a"))
		b := p.EnsureLabel(NewKey("b", Label{Key: "x", Value: "1"}))
		p.insertAt(CounterEntry(1, OpAdd), a, 1000)
		p.insertAt(GaugeEntry(2.5, OpSet), b, 2000)
		return p
	}

	p1, p2 := build(), build()
	if !p1.Equal(p2) {
		t.Error("identically built series should be equal")
	}

	p2.insertAt(HistogramEntry(1), 0, 3000)
	if p1.Equal(p2) {
		t.Error("series with an extra event should not be equal")
	}

	p3 := build()
	p3.EnsureLabel(NewKey("c"))
	if p1.Equal(p3) {
		t.Error("series with an extra label should not be equal")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := &Procession{}
	label := p.EnsureLabel(NewKey("m"))
	p.insertAt(CounterEntry(1, OpAdd), label, 1000)

	clone := p.Clone()
	if !p.Equal(clone) {
		t.Fatal("clone should equal the original")
	}

	p.insertAt(CounterEntry(2, OpAdd), label, 1001)
	p.EnsureLabel(NewKey("new"))
	if p.Equal(clone) {
		t.Error("mutating the original should not affect the clone")
	}
	if clone.eventCount() != 1 || clone.Labels.Len() != 1 {
		t.Errorf("clone changed under the original: %d events, %d labels", clone.eventCount(), clone.Labels.Len())
	}
}

func TestFromMetricsRoundTrip(t *testing.T) {
	const ref = int64(1_700_000_000_000)
	p := &Procession{}
	a := p.EnsureLabel(NewKey("requests", Label{Key: "method", Value: "GET"}))
	b := p.EnsureLabel(NewKey("latency"))
	p.insertAt(CounterEntry(1, OpAdd), a, ref)
	p.insertAt(HistogramEntry(12.5), b, ref+100)
	p.insertAt(CounterEntry(2, OpAdd), a, ref+70_000)

	back := FromMetrics(p.Metrics())

	orig, rebuilt := p.Metrics(), back.Metrics()
	if len(rebuilt) != len(orig) {
		t.Fatalf("rebuilt %d events, want %d", len(rebuilt), len(orig))
	}
	for i := range orig {
		if !rebuilt[i].Equal(orig[i]) {
			t.Errorf("event %d = %+v, want %+v", i, rebuilt[i], orig[i])
		}
	}
	// Timestamp fidelity also implies the same chunk split.
	if len(back.Chunks) != len(p.Chunks) {
		t.Errorf("rebuilt into %d chunks, want %d", len(back.Chunks), len(p.Chunks))
	}
}
