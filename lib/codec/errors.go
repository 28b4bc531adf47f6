package codec

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

var (
	// ErrUnexpectedType is returned when the stored tag differs from the requested one.
	ErrUnexpectedType = errors.New("unexpected type")
	// ErrDecoding is returned for malformed, truncated or unknown encodings.
	ErrDecoding = errors.New("decoding error")
	// ErrEncoding is returned for values that cannot be represented.
	ErrEncoding = errors.New("encoding error")
)

// TypeError reports a tag mismatch. It matches ErrUnexpectedType with errors.Is.
type TypeError struct {
	Expected Tag
	Actual   Tag
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("unexpected type: expected %s, found %s", e.Expected, e.Actual)
}

func (e *TypeError) Is(target error) bool {
	return target == ErrUnexpectedType
}

// DataError reports a malformed or unrepresentable value.
// It matches ErrDecoding or ErrEncoding with errors.Is.
type DataError struct {
	Kind error // ErrDecoding or ErrEncoding
	Tag  Tag
	Msg  string
}

func (e *DataError) Error() string {
	if e.Tag.Valid() {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Tag, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *DataError) Is(target error) bool {
	return target == e.Kind
}

func newDecodingError(tag Tag, format string, args ...any) error {
	return &DataError{Kind: ErrDecoding, Tag: tag, Msg: fmt.Sprintf(format, args...)}
}

func newEncodingError(tag Tag, format string, args ...any) error {
	return &DataError{Kind: ErrEncoding, Tag: tag, Msg: fmt.Sprintf(format, args...)}
}
