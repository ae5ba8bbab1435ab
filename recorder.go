package procession

import (
	"log/slog"
	"math"
	"sync"
)

// Registry is the instrumentation-registration surface implemented by
// Recorder. Host code registers each metric once and then writes through
// the returned handle; the core never calls back into host code.
type Registry interface {
	RegisterCounter(name string, labels ...Label) *Counter
	RegisterGauge(name string, labels ...Label) *Gauge
	RegisterHistogram(name string, labels ...Label) *Histogram
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Logger receives warnings for dropped events. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// Stream, when enabled, fans every recorded event out to live-tail
	// subscribers.
	Stream StreamConfig
}

// Recorder is a shareable, mutex-protected wrapper around one Procession.
// Registration interns the key under the lock and returns a cheap handle;
// each write takes the lock for the duration of a single insert. Writes
// from different goroutines interleave in lock-acquisition order, which is
// not necessarily wall-clock order; writes through one handle from one
// goroutine keep program order.
//
// Every locked section releases via defer, so a caller panicking
// mid-operation cannot leave the lock held for everyone else.
type Recorder struct {
	mu     sync.Mutex
	series *Procession
	logger *slog.Logger
	hub    *StreamHub
}

var _ Registry = (*Recorder)(nil)

// NewRecorder creates a recorder around an empty series with default
// configuration.
func NewRecorder() *Recorder {
	return NewRecorderWithConfig(RecorderConfig{})
}

// NewRecorderWithConfig creates a recorder with the given configuration.
func NewRecorderWithConfig(cfg RecorderConfig) *Recorder {
	r := &Recorder{
		series: &Procession{},
		logger: cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if cfg.Stream.Enabled {
		r.hub = NewStreamHub(cfg.Stream)
	}
	return r
}

// Hub returns the live-tail hub, or nil when streaming is disabled.
func (r *Recorder) Hub() *StreamHub {
	return r.hub
}

// register interns the key and returns its id, holding the lock only for
// the intern itself.
func (r *Recorder) register(name string, labels []Label) uint16 {
	key := NewKey(name, labels...)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.series.EnsureLabel(key)
}

// RegisterCounter interns the key and returns a counter handle bound to
// it. Handles are cheap and safe to share across goroutines.
func (r *Recorder) RegisterCounter(name string, labels ...Label) *Counter {
	return &Counter{label: r.register(name, labels), rec: r}
}

// RegisterGauge interns the key and returns a gauge handle bound to it.
func (r *Recorder) RegisterGauge(name string, labels ...Label) *Gauge {
	return &Gauge{label: r.register(name, labels), rec: r}
}

// RegisterHistogram interns the key and returns a histogram handle bound
// to it.
func (r *Recorder) RegisterHistogram(name string, labels ...Label) *Histogram {
	return &Histogram{label: r.register(name, labels), rec: r}
}

// insert appends one event under the lock and, when streaming is enabled,
// publishes the owned logical form to subscribers.
func (r *Recorder) insert(e Entry, label uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series.Insert(e, label)
	if r.hub != nil {
		last := &r.series.Chunks[len(r.series.Chunks)-1]
		ev := last.Events[len(last.Events)-1]
		m := Metric{
			When:  last.ReferenceTime + int64(ev.MS),
			Entry: ev.Entry,
		}
		if key, ok := r.series.Labels.Resolve(ev.Label); ok {
			m.Key = key.Name()
			if labels := key.Labels(); len(labels) > 0 {
				m.Labels = append([]Label(nil), labels...)
			}
		}
		r.hub.Publish(m)
	}
}

// View runs fn against the live series while holding the lock, giving the
// reader a single internally consistent state. The series must not be
// retained or mutated by fn.
func (r *Recorder) View(fn func(p *Procession)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.series)
}

// Snapshot returns a deep copy of the current series, taken under the
// lock. The copy is safe to iterate and serialize while writers continue.
func (r *Recorder) Snapshot() *Procession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.series.Clone()
}

// MemorySize reports the series' current best-effort byte estimate.
func (r *Recorder) MemorySize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.series.MemorySize()
}

// Counter is a handle for a registered counter metric. Counter values are
// stored as uint32; writes whose value does not fit are dropped with a
// warning rather than wrapped or truncated.
type Counter struct {
	label uint16
	rec   *Recorder
}

// Increment records a delta increment of the counter.
func (c *Counter) Increment(value uint64) {
	c.insert(value, OpAdd)
}

// Absolute records an absolute overwrite of the counter.
func (c *Counter) Absolute(value uint64) {
	c.insert(value, OpSet)
}

func (c *Counter) insert(value uint64, op Op) {
	if value > math.MaxUint32 {
		c.rec.logger.Warn("counter value exceeds uint32 range, dropping event", "value", value)
		return
	}
	c.rec.insert(CounterEntry(uint32(value), op), c.label)
}

// Gauge is a handle for a registered gauge metric. Values are stored as
// float32; the full floating range including NaN and infinities passes
// through unmodified.
type Gauge struct {
	label uint16
	rec   *Recorder
}

// Increment records a delta increment of the gauge.
func (g *Gauge) Increment(value float64) {
	g.rec.insert(GaugeEntry(float32(value), OpAdd), g.label)
}

// Decrement records a delta decrement of the gauge.
func (g *Gauge) Decrement(value float64) {
	g.rec.insert(GaugeEntry(float32(value), OpSub), g.label)
}

// Set records an absolute overwrite of the gauge.
func (g *Gauge) Set(value float64) {
	g.rec.insert(GaugeEntry(float32(value), OpSet), g.label)
}

// Histogram is a handle for a registered histogram metric. Every record is
// an independent sample; nothing is aggregated at write time.
type Histogram struct {
	label uint16
	rec   *Recorder
}

// Record stores one histogram sample.
func (h *Histogram) Record(value float64) {
	h.rec.insert(HistogramEntry(float32(value)), h.label)
}
