package procession

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/snappy"

	"github.com/FreeMasen/metrics-procession/internal/encoding"
)

// Binary snapshot layout: a fixed header followed by the payload.
//
//	magic   "PCSN" (4 bytes)
//	version uint8
//	flags   uint8 (bit 0: snappy-compressed, bit 1: encrypted)
//	payload
//
// The body is compressed first and encrypted second, so decoding reverses
// the order. Events are fixed width: kind, op, 4 raw value bytes (uint32
// for counters, float32 bits otherwise), ms, and label id.
const (
	snapshotMagic   = "PCSN"
	snapshotVersion = 1

	flagCompressed = 1 << 0
	flagEncrypted  = 1 << 1
)

func encodeBinary(p *Procession, cfg SnapshotConfig) ([]byte, error) {
	body := &bytes.Buffer{}
	if err := encodeLabelSet(body, &p.Labels); err != nil {
		return nil, err
	}
	if err := binary.Write(body, binary.LittleEndian, uint32(len(p.Chunks))); err != nil {
		return nil, err
	}
	for i := range p.Chunks {
		if err := encodeChunk(body, &p.Chunks[i]); err != nil {
			return nil, err
		}
	}

	payload := body.Bytes()
	flags := uint8(0)
	if cfg.Compress {
		payload = snappy.Encode(nil, payload)
		flags |= flagCompressed
	}
	if cfg.Encryption != nil && cfg.Encryption.Enabled {
		enc, err := NewEncryptor(*cfg.Encryption)
		if err != nil {
			return nil, err
		}
		payload, err = enc.Seal(payload)
		if err != nil {
			return nil, err
		}
		flags |= flagEncrypted
	}

	out := &bytes.Buffer{}
	out.WriteString(snapshotMagic)
	out.WriteByte(snapshotVersion)
	out.WriteByte(flags)
	out.Write(payload)
	return out.Bytes(), nil
}

func decodeBinary(data []byte, cfg SnapshotConfig) (*Procession, error) {
	if len(data) < len(snapshotMagic)+2 {
		return nil, newDecodeError("header", fmt.Errorf("input too short: %d bytes", len(data)))
	}
	if string(data[:len(snapshotMagic)]) != snapshotMagic {
		return nil, newDecodeError("header", fmt.Errorf("bad magic %q", data[:len(snapshotMagic)]))
	}
	version := data[len(snapshotMagic)]
	if version != snapshotVersion {
		return nil, newDecodeError("header", fmt.Errorf("unsupported version %d", version))
	}
	flags := data[len(snapshotMagic)+1]
	payload := data[len(snapshotMagic)+2:]

	if flags&flagEncrypted != 0 {
		if cfg.Encryption == nil || !cfg.Encryption.Enabled {
			return nil, fmt.Errorf("%w: snapshot is encrypted and no key was provided", ErrEncryptionKey)
		}
		var err error
		payload, err = openSealed(*cfg.Encryption, payload)
		if err != nil {
			return nil, err
		}
	}
	if flags&flagCompressed != 0 {
		var err error
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, newDecodeError("payload", err)
		}
	}

	reader := bytes.NewReader(payload)
	p := &Procession{}
	if err := decodeLabelSet(reader, &p.Labels); err != nil {
		return nil, err
	}
	var chunkCount uint32
	if err := binary.Read(reader, binary.LittleEndian, &chunkCount); err != nil {
		return nil, newDecodeError("chunk count", err)
	}
	for i := uint32(0); i < chunkCount; i++ {
		chunk, err := decodeChunk(reader)
		if err != nil {
			return nil, err
		}
		p.Chunks = append(p.Chunks, chunk)
	}
	if reader.Len() != 0 {
		return nil, newDecodeError("payload", fmt.Errorf("%d trailing bytes", reader.Len()))
	}
	return p, nil
}

// encodeLabelSet writes the ordered persisted form of the label set: one
// entry per key with its name, label pairs, and assigned id, entries in id
// order with overflow keys trailing under the sentinel id.
func encodeLabelSet(buf *bytes.Buffer, ls *LabelSet) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(ls.Len())); err != nil {
		return err
	}
	writeEntry := func(k Key, id uint16) error {
		if err := encoding.WriteString(buf, k.Name()); err != nil {
			return err
		}
		labels := k.Labels()
		pairs := make([][2]string, len(labels))
		for i, l := range labels {
			pairs[i] = [2]string{l.Key, l.Value}
		}
		if err := encoding.WritePairs(buf, pairs); err != nil {
			return err
		}
		return binary.Write(buf, binary.LittleEndian, id)
	}
	for i, k := range ls.entries {
		if err := writeEntry(k, uint16(i)); err != nil {
			return err
		}
	}
	for _, k := range ls.overflow {
		if err := writeEntry(k, MaxLabelID); err != nil {
			return err
		}
	}
	return nil
}

func decodeLabelSet(reader *bytes.Reader, ls *LabelSet) error {
	var count uint32
	if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
		return newDecodeError("label set", err)
	}
	for i := uint32(0); i < count; i++ {
		name, err := encoding.ReadString(reader)
		if err != nil {
			return newDecodeError("label set entry", err)
		}
		pairs, err := encoding.ReadPairs(reader)
		if err != nil {
			return newDecodeError("label set entry", err)
		}
		var id uint16
		if err := binary.Read(reader, binary.LittleEndian, &id); err != nil {
			return newDecodeError("label set entry", err)
		}
		labels := make([]Label, len(pairs))
		for j, p := range pairs {
			labels[j] = Label{Key: p[0], Value: p[1]}
		}
		ls.restore(NewKey(name, labels...), id)
	}
	return nil
}

func encodeChunk(buf *bytes.Buffer, c *Chunk) error {
	if err := binary.Write(buf, binary.LittleEndian, c.ReferenceTime); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(c.Events))); err != nil {
		return err
	}
	for _, ev := range c.Events {
		raw := ev.Entry.Count
		if ev.Entry.Kind != KindCounter {
			raw = math.Float32bits(ev.Entry.Value)
		}
		if err := binary.Write(buf, binary.LittleEndian, struct {
			Kind  uint8
			Op    uint8
			Raw   uint32
			MS    uint16
			Label uint16
		}{uint8(ev.Entry.Kind), uint8(ev.Entry.Op), raw, ev.MS, ev.Label}); err != nil {
			return err
		}
	}
	return nil
}

func decodeChunk(reader *bytes.Reader) (Chunk, error) {
	var chunk Chunk
	if err := binary.Read(reader, binary.LittleEndian, &chunk.ReferenceTime); err != nil {
		return chunk, newDecodeError("chunk", err)
	}
	var count uint32
	if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
		return chunk, newDecodeError("chunk", err)
	}
	const eventWidth = 10
	if int(count) > reader.Len()/eventWidth {
		return chunk, newDecodeError("chunk", fmt.Errorf("event count %d exceeds remaining %d bytes", count, reader.Len()))
	}
	chunk.Events = make([]Event, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw struct {
			Kind  uint8
			Op    uint8
			Raw   uint32
			MS    uint16
			Label uint16
		}
		if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
			return chunk, newDecodeError("event", err)
		}
		if raw.Kind > uint8(KindHistogram) {
			return chunk, newDecodeError("event", fmt.Errorf("unknown entry kind %d", raw.Kind))
		}
		if raw.Op > uint8(OpSet) {
			return chunk, newDecodeError("event", fmt.Errorf("unknown op %d", raw.Op))
		}
		entry := Entry{Kind: EntryKind(raw.Kind), Op: Op(raw.Op)}
		if entry.Kind == KindCounter {
			entry.Count = raw.Raw
		} else {
			entry.Value = math.Float32frombits(raw.Raw)
		}
		chunk.Events = append(chunk.Events, Event{Entry: entry, MS: raw.MS, Label: raw.Label})
	}
	return chunk, nil
}
