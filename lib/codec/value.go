package codec

import (
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Type Tags
// --------------------------------------------------------------------------

// Tag is the one byte discriminant in front of every encoded value.
type Tag uint8

const (
	TagBool    Tag = iota + 1 // 1: Bool
	TagU64                    // 2: U64
	TagI64                    // 3: I64
	TagF64                    // 4: F64
	TagInstant                // 5: Instant
	TagUUID                   // 6: UUID
	TagStr                    // 7: Str
	TagJSON                   // 8: JSON
	TagBlob                   // 9: Blob
	TagMap                    // 10: Map
)

func (t Tag) String() string {
	switch t {
	case TagBool:
		return "Bool"
	case TagU64:
		return "U64"
	case TagI64:
		return "I64"
	case TagF64:
		return "F64"
	case TagInstant:
		return "Instant"
	case TagUUID:
		return "UUID"
	case TagStr:
		return "Str"
	case TagJSON:
		return "JSON"
	case TagBlob:
		return "Blob"
	case TagMap:
		return "Map"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool {
	return t >= TagBool && t <= TagMap
}

// ParseTag converts a lower-case tag name ("str", "u64", ...) to a Tag.
func ParseTag(name string) (Tag, error) {
	for t := TagBool; t <= TagMap; t++ {
		if strings.EqualFold(t.String(), name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", name)
}

// --------------------------------------------------------------------------
// Value Variants
// --------------------------------------------------------------------------

// Value is the closed set of value shapes a store can hold.
// Values outside the set are stored as Blob or JSON.
type Value interface {
	// Tag returns the discriminant of the variant.
	Tag() Tag

	appendPayload(dst []byte) ([]byte, error)
}

type (
	Bool    bool
	U64     uint64
	I64     int64
	F64     float64
	Instant int64 // milliseconds since the Unix epoch
	UUID    uuid.UUID
	Str     string
	JSON    string // JSON text
	Blob    []byte
	Map     map[string]Value
)

func (Bool) Tag() Tag    { return TagBool }
func (U64) Tag() Tag     { return TagU64 }
func (I64) Tag() Tag     { return TagI64 }
func (F64) Tag() Tag     { return TagF64 }
func (Instant) Tag() Tag { return TagInstant }
func (UUID) Tag() Tag    { return TagUUID }
func (Str) Tag() Tag     { return TagStr }
func (JSON) Tag() Tag    { return TagJSON }
func (Blob) Tag() Tag    { return TagBlob }
func (Map) Tag() Tag     { return TagMap }

// InstantOf converts t to an Instant with millisecond precision.
func InstantOf(t time.Time) Instant {
	return Instant(t.UnixMilli())
}

// Time returns the instant as time.Time in UTC.
func (i Instant) Time() time.Time {
	return time.UnixMilli(int64(i)).UTC()
}

// NewUUID returns a random (version 4) UUID value.
func NewUUID() UUID {
	return UUID(uuid.New())
}

// ParseUUID parses the textual form of a UUID.
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID(id), nil
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// JSONOf marshals v into a JSON value.
func JSONOf(v any) (JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", newEncodingError(TagJSON, "%v", err)
	}
	return JSON(b), nil
}

// Unmarshal decodes the JSON text into v.
func (j JSON) Unmarshal(v any) error {
	return json.Unmarshal([]byte(j), v)
}

// Format renders v for diagnostics.
func Format(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case Str:
		return fmt.Sprintf("%s(%q)", val.Tag(), string(val))
	case JSON:
		return fmt.Sprintf("%s(%s)", val.Tag(), string(val))
	case Blob:
		return fmt.Sprintf("%s(%d bytes)", val.Tag(), len(val))
	case Instant:
		return fmt.Sprintf("%s(%s)", val.Tag(), val.Time().Format(time.RFC3339Nano))
	case UUID:
		return fmt.Sprintf("%s(%s)", val.Tag(), val.String())
	case Map:
		return fmt.Sprintf("%s(%d entries)", val.Tag(), len(val))
	default:
		return fmt.Sprintf("%s(%v)", v.Tag(), v)
	}
}
