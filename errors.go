package procession

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the procession package.
var (
	// ErrMalformedInput is returned when persisted input cannot be
	// decoded: a bad magic header, a truncated payload, or a label set
	// entry missing a required field.
	ErrMalformedInput = errors.New("malformed procession input")

	// ErrUnknownFormat is returned when a snapshot format cannot be
	// determined or is not one of the supported values.
	ErrUnknownFormat = errors.New("unknown snapshot format")

	// ErrSnapshotNotFound is returned by snapshot stores when the named
	// snapshot does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrEncryptionKey is returned when an encryption configuration is
	// invalid or a payload cannot be decrypted with the supplied key.
	ErrEncryptionKey = errors.New("invalid encryption key")
)

// DecodeError describes a failure while decoding a persisted snapshot,
// naming the section of the payload that could not be read.
type DecodeError struct {
	Section string
	Cause   error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decoding %s: %v", e.Section, e.Cause)
	}
	return fmt.Sprintf("decoding %s", e.Section)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Is makes every DecodeError match ErrMalformedInput.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedInput
}

// newDecodeError wraps a low-level read failure with the payload section
// being decoded.
func newDecodeError(section string, cause error) *DecodeError {
	return &DecodeError{Section: section, Cause: cause}
}

func errMissingField(name string) error {
	return fmt.Errorf("%s field missing", name)
}
