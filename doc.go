// Package procession provides an in-process metrics capture engine that
// stores every observed event in a compact, append-only, in-memory time
// series suitable for later replay, inspection, or serialization.
//
// Instead of aggregating at write time, every counter increment, gauge
// update, and histogram sample is kept as an individual event. Memory
// density comes from two tricks: metric keys are interned into dense
// 16-bit label ids, and timestamps are stored as 16-bit millisecond
// offsets from a per-chunk reference time, so a full timestamp is paid
// once per ~65-second window rather than once per event.
//
// # Basic Usage
//
// Create a recorder and register handles:
//
//	rec := procession.NewRecorder()
//	requests := rec.RegisterCounter("http_requests_total",
//	    procession.Label{Key: "method", Value: "GET"},
//	    procession.Label{Key: "status", Value: "200"},
//	)
//	latency := rec.RegisterHistogram("http_request_duration_ms")
//
// Record events from any goroutine:
//
//	requests.Increment(1)
//	latency.Record(12.7)
//
// Read back everything that happened:
//
//	for _, m := range rec.Snapshot().Metrics() {
//	    fmt.Println(m.When, m.Key, m.Entry)
//	}
//
// # Features
//
// Core storage:
//   - Append-only chunked event storage with 16-bit time offsets
//   - Dense label interning with lossy-but-safe overflow handling
//   - Borrowed (zero-copy) and owned iteration over recorded events
//   - Reconstruction of a series from flattened logical events
//
// Serialization:
//   - Compact binary snapshots with snappy compression
//   - Canonical JSON and line-delimited logical-event interchange forms
//   - Optional AES-256-GCM snapshot encryption
//
// Integrations:
//   - Snapshot stores backed by SQLite or S3-compatible object storage
//   - Prometheus remote-write export of recorded events
//   - WebSocket live tail of events as they are recorded
//
// The recorder is safe for concurrent use. A single mutex guards the
// underlying series; handles are cheap and may be shared freely across
// goroutines. The series grows without bound by design. Callers that
// need to cap memory should snapshot and replace the recorder.
package procession
