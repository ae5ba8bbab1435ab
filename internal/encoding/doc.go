// Package encoding provides the low-level binary read/write helpers used
// by the procession snapshot codec.
//
// All values are little-endian. Strings are a uint32 length prefix
// followed by raw bytes; label pair lists are a uint32 count followed by
// alternating key/value strings in their stored order. Readers validate
// length prefixes against the remaining input so truncated or corrupt
// payloads fail instead of over-allocating.
package encoding
