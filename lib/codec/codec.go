package codec

import (
	"encoding/binary"
	"encoding/json"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"math"
	"unicode/utf8"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	tagSize    = 1 // Size of the type tag
	fixedSize  = 8 // Payload size of U64, I64, F64 and Instant
	lengthSize = 8 // Size of the length prefix of Str, JSON and Blob
)

// cbor modes for Map payloads. Canonical sorting keeps encodings deterministic.
var (
	mapEncMode cbor.EncMode
	mapDecMode cbor.DecMode
)

func init() {
	var err error
	if mapEncMode, err = (cbor.EncOptions{Sort: cbor.SortCanonical}).EncMode(); err != nil {
		panic(err)
	}
	if mapDecMode, err = (cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}).DecMode(); err != nil {
		panic(err)
	}
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode returns the tagged byte representation of v.
func Encode(v Value) ([]byte, error) {
	if v == nil {
		return nil, newEncodingError(0, "nil value")
	}
	return AppendEncode(make([]byte, 0, encodedSizeHint(v)), v)
}

// AppendEncode appends the tagged byte representation of v to dst.
func AppendEncode(dst []byte, v Value) ([]byte, error) {
	if v == nil {
		return nil, newEncodingError(0, "nil value")
	}
	dst = append(dst, byte(v.Tag()))
	return v.appendPayload(dst)
}

func encodedSizeHint(v Value) int {
	switch val := v.(type) {
	case Bool:
		return tagSize + 1
	case UUID:
		return tagSize + 16
	case Str:
		return tagSize + lengthSize + len(val)
	case JSON:
		return tagSize + lengthSize + len(val)
	case Blob:
		return tagSize + lengthSize + len(val)
	case Map:
		return 64
	default:
		return tagSize + fixedSize
	}
}

func (v Bool) appendPayload(dst []byte) ([]byte, error) {
	if v {
		return append(dst, 1), nil
	}
	return append(dst, 0), nil
}

func (v U64) appendPayload(dst []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil
}

func (v I64) appendPayload(dst []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil
}

func (v F64) appendPayload(dst []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(v))), nil
}

func (v Instant) appendPayload(dst []byte) ([]byte, error) {
	return binary.LittleEndian.AppendUint64(dst, uint64(v)), nil
}

func (v UUID) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, v[:]...), nil
}

func (v Str) appendPayload(dst []byte) ([]byte, error) {
	if !utf8.ValidString(string(v)) {
		return nil, newEncodingError(TagStr, "invalid UTF-8")
	}
	return appendBytes(dst, []byte(v)), nil
}

func (v JSON) appendPayload(dst []byte) ([]byte, error) {
	if !json.Valid([]byte(v)) {
		return nil, newEncodingError(TagJSON, "invalid JSON text")
	}
	return appendBytes(dst, []byte(v)), nil
}

func (v Blob) appendPayload(dst []byte) ([]byte, error) {
	return appendBytes(dst, v), nil
}

// Map entries are stored as a canonical CBOR map from key to the nested tagged encoding.
func (v Map) appendPayload(dst []byte) ([]byte, error) {
	entries := make(map[string][]byte, len(v))
	for k, nested := range v {
		if nested == nil {
			return nil, newEncodingError(TagMap, "nil value for key %q", k)
		}
		if !utf8.ValidString(k) {
			return nil, newEncodingError(TagMap, "invalid UTF-8 in key %q", k)
		}
		b, err := Encode(nested)
		if err != nil {
			return nil, err
		}
		entries[k] = b
	}
	b, err := mapEncMode.Marshal(entries)
	if err != nil {
		return nil, newEncodingError(TagMap, "%v", err)
	}
	return append(dst, b...), nil
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(b)))
	return append(dst, b...)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// TagOf returns the tag of an encoded value without decoding the payload.
func TagOf(b []byte) (Tag, error) {
	if len(b) < tagSize {
		return 0, newDecodingError(0, "data too short")
	}
	tag := Tag(b[0])
	if !tag.Valid() {
		return 0, newDecodingError(0, "unknown tag %d", b[0])
	}
	return tag, nil
}

// Decode decodes a value of any tag. The result never aliases b.
func Decode(b []byte) (Value, error) {
	tag, err := TagOf(b)
	if err != nil {
		return nil, err
	}
	return decodePayload(tag, b[tagSize:])
}

// DecodeTag decodes b, failing with ErrUnexpectedType if it does not hold a
// value of the expected tag. The tag is checked before the payload.
func DecodeTag(b []byte, expected Tag) (Value, error) {
	tag, err := TagOf(b)
	if err != nil {
		return nil, err
	}
	if tag != expected {
		return nil, &TypeError{Expected: expected, Actual: tag}
	}
	return decodePayload(tag, b[tagSize:])
}

// DecodeAs decodes b into the concrete variant T.
func DecodeAs[T Value](b []byte) (T, error) {
	var zero T
	if any(zero) == nil {
		// T is an interface type, accept any tag
		v, err := Decode(b)
		if err != nil {
			return zero, err
		}
		return As[T](v)
	}
	v, err := DecodeTag(b, zero.Tag())
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// As converts v to the variant T, failing with ErrUnexpectedType on mismatch.
func As[T Value](v Value) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}
	var actual Tag
	if v != nil {
		actual = v.Tag()
	}
	var expected Tag
	if any(zero) != nil {
		expected = zero.Tag()
	}
	return zero, &TypeError{Expected: expected, Actual: actual}
}

func decodePayload(tag Tag, p []byte) (Value, error) {
	switch tag {
	case TagBool:
		if len(p) != 1 {
			return nil, newDecodingError(tag, "expected 1 byte, got %d", len(p))
		}
		switch p[0] {
		case 0:
			return Bool(false), nil
		case 1:
			return Bool(true), nil
		default:
			return nil, newDecodingError(tag, "invalid boolean byte %d", p[0])
		}
	case TagU64, TagI64, TagF64, TagInstant:
		if len(p) != fixedSize {
			return nil, newDecodingError(tag, "expected %d bytes, got %d", fixedSize, len(p))
		}
		raw := binary.LittleEndian.Uint64(p)
		switch tag {
		case TagU64:
			return U64(raw), nil
		case TagI64:
			return I64(int64(raw)), nil
		case TagF64:
			return F64(math.Float64frombits(raw)), nil
		default:
			return Instant(int64(raw)), nil
		}
	case TagUUID:
		id, err := uuid.FromBytes(p)
		if err != nil {
			return nil, newDecodingError(tag, "%v", err)
		}
		return UUID(id), nil
	case TagStr:
		b, err := readBytes(tag, p)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, newDecodingError(tag, "invalid UTF-8")
		}
		return Str(b), nil
	case TagJSON:
		b, err := readBytes(tag, p)
		if err != nil {
			return nil, err
		}
		if !json.Valid(b) {
			return nil, newDecodingError(tag, "invalid JSON text")
		}
		return JSON(b), nil
	case TagBlob:
		b, err := readBytes(tag, p)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return Blob(out), nil
	case TagMap:
		var entries map[string][]byte
		if err := mapDecMode.Unmarshal(p, &entries); err != nil {
			return nil, newDecodingError(tag, "%v", err)
		}
		m := make(Map, len(entries))
		for k, nested := range entries {
			v, err := Decode(nested)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	default:
		return nil, newDecodingError(tag, "unknown tag")
	}
}

// readBytes reads a length prefixed byte string that must fill p exactly.
func readBytes(tag Tag, p []byte) ([]byte, error) {
	if len(p) < lengthSize {
		return nil, newDecodingError(tag, "data too short")
	}
	n := binary.LittleEndian.Uint64(p)
	rest := p[lengthSize:]
	if n != uint64(len(rest)) {
		return nil, newDecodingError(tag, "length prefix %d does not match payload size %d", n, len(rest))
	}
	return rest, nil
}
