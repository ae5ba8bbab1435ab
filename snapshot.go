package procession

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format selects the serialized representation of a snapshot.
type Format int

const (
	// FormatBinary is the compact binary form, optionally compressed
	// and encrypted. The canonical round-trip format.
	FormatBinary Format = iota
	// FormatJSON is the canonical JSON form: chunks plus the ordered
	// label table.
	FormatJSON
	// FormatJSONLines is the flattened interchange form: one
	// self-describing logical event per line.
	FormatJSONLines
)

// String returns the canonical name of the format.
func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatJSONLines:
		return "jsonl"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses a format name as used in configuration files and
// command lines.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "binary", "bin":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	case "jsonl", "json-lines", "jsonlines":
		return FormatJSONLines, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// SnapshotConfig controls how a snapshot is encoded and decoded.
// Compression and encryption apply to the binary format only; the JSON
// forms are plain-text interchange.
type SnapshotConfig struct {
	Format   Format
	Compress bool
	// Encryption, when enabled, seals binary snapshots with
	// AES-256-GCM. Required again at decode time.
	Encryption *EncryptionConfig
}

// DefaultSnapshotConfig returns the default snapshot configuration:
// compressed binary, no encryption.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{Format: FormatBinary, Compress: true}
}

// EncodeSnapshot serializes the series in the configured format.
func EncodeSnapshot(p *Procession, cfg SnapshotConfig) ([]byte, error) {
	switch cfg.Format {
	case FormatBinary:
		return encodeBinary(p, cfg)
	case FormatJSON:
		return json.Marshal(p)
	case FormatJSONLines:
		buf := &bytes.Buffer{}
		if err := WriteMetricLines(buf, p.Metrics()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, cfg.Format)
}

// DecodeSnapshot rebuilds a series from data produced by EncodeSnapshot.
// The format is detected from the content itself; cfg supplies the
// decryption key for encrypted binary snapshots. Malformed input is
// rejected with an error wrapping ErrMalformedInput.
func DecodeSnapshot(data []byte, cfg SnapshotConfig) (*Procession, error) {
	switch DetectFormat(data) {
	case FormatBinary:
		return decodeBinary(data, cfg)
	case FormatJSON:
		return decodeJSON(data)
	case FormatJSONLines:
		metrics, err := ReadMetricLines(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return FromMetrics(metrics), nil
	}
	return nil, ErrUnknownFormat
}

// DetectFormat sniffs the serialized form from its leading bytes.
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, []byte(snapshotMagic)) {
		return FormatBinary
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		// A leading object is either a canonical snapshot or the
		// first line of a logical-event stream; the canonical form
		// carries "chunks"/"labels" at the top level. A stream may be
		// a single line with no trailing newline, so the whole input
		// is examined when no newline is present.
		line := trimmed
		if first, _, ok := bytes.Cut(trimmed, []byte{'\n'}); ok {
			line = first
		}
		if json.Valid(line) && !isCanonicalObject(line) {
			return FormatJSONLines
		}
	}
	return FormatJSON
}

// isCanonicalObject reports whether a JSON object carries the canonical
// snapshot's top-level "chunks" or "labels" fields.
func isCanonicalObject(data []byte) bool {
	var header struct {
		Chunks json.RawMessage `json:"chunks"`
		Labels json.RawMessage `json:"labels"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return false
	}
	return header.Chunks != nil || header.Labels != nil
}

// decodeJSON accepts the canonical snapshot object, a JSON array of
// logical events, or a single logical-event object. An object that is
// none of these is rejected rather than silently decoded as an empty
// series.
func decodeJSON(data []byte) (*Procession, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var metrics []Metric
		if err := json.Unmarshal(data, &metrics); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		return FromMetrics(metrics), nil
	}
	if len(trimmed) > 0 && trimmed[0] == '{' && !isCanonicalObject(trimmed) {
		var m Metric
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("%w: object is neither a snapshot nor a logical event: %v", ErrMalformedInput, err)
		}
		return FromMetrics([]Metric{m}), nil
	}
	var p Procession
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return &p, nil
}

// WriteMetricLines writes logical events one JSON object per line.
func WriteMetricLines(w io.Writer, metrics []Metric) error {
	enc := json.NewEncoder(w)
	for _, m := range metrics {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}

// ReadMetricLines reads line-delimited logical events until EOF. Blank
// lines are skipped; a malformed line is a hard error.
func ReadMetricLines(r io.Reader) ([]Metric, error) {
	var out []Metric
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m Metric
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedInput, line, err)
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteSnapshotFile serializes the series to a file in the configured
// format.
func WriteSnapshotFile(path string, p *Procession, cfg SnapshotConfig) error {
	data, err := EncodeSnapshot(p, cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshotFile loads a series from a file written by
// WriteSnapshotFile, or from any of the interchange forms an external tool
// may produce. The format is detected from the content; cfg supplies the
// key for encrypted snapshots.
func ReadSnapshotFile(path string, cfg SnapshotConfig) (*Procession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Extension is only a hint for the ambiguous JSON cases; content
	// sniffing decides everything else.
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".jsonl" {
		metrics, err := ReadMetricLines(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return FromMetrics(metrics), nil
	}
	return DecodeSnapshot(data, cfg)
}
