package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WriteString writes a length-prefixed string to the buffer.
func WriteString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// ReadString reads a length-prefixed string from the reader. The length
// prefix is checked against the remaining input before allocating.
func ReadString(reader *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if int(length) > reader.Len() {
		return "", fmt.Errorf("string length %d exceeds remaining %d bytes", length, reader.Len())
	}
	if length == 0 {
		return "", nil
	}
	raw := make([]byte, length)
	if _, err := reader.Read(raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// WritePairs writes an ordered list of key/value string pairs.
func WritePairs(buf *bytes.Buffer, pairs [][2]string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(pairs))); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := WriteString(buf, p[0]); err != nil {
			return err
		}
		if err := WriteString(buf, p[1]); err != nil {
			return err
		}
	}
	return nil
}

// ReadPairs reads an ordered list of key/value string pairs.
func ReadPairs(reader *bytes.Reader) ([][2]string, error) {
	var count uint32
	if err := binary.Read(reader, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	// Each pair needs at least two length prefixes.
	if int(count) > reader.Len()/8 {
		return nil, fmt.Errorf("pair count %d exceeds remaining %d bytes", count, reader.Len())
	}
	pairs := make([][2]string, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := ReadString(reader)
		if err != nil {
			return nil, err
		}
		val, err := ReadString(reader)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]string{key, val})
	}
	return pairs, nil
}
