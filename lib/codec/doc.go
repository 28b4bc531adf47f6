// Package codec implements the type-tagged value encoding used by rKV stores.
//
// Every stored value starts with a one byte Tag followed by a compact,
// non-self-describing payload:
//
//	Tag  Variant   Payload
//	1    Bool      1 byte (0 or 1)
//	2    U64       8 bytes little-endian
//	3    I64       8 bytes little-endian
//	4    F64       8 bytes little-endian IEEE-754
//	5    Instant   8 bytes little-endian milliseconds since the Unix epoch
//	6    UUID      16 bytes
//	7    Str       8 byte little-endian length + UTF-8 text
//	8    JSON      8 byte little-endian length + JSON text
//	9    Blob      8 byte little-endian length + opaque bytes
//	10   Map       canonical CBOR map of key to nested tagged encoding
//
// DecodeTag and DecodeAs check the tag before they look at the payload. A tag
// mismatch fails with ErrUnexpectedType, which callers can tell apart from an
// absent key. Malformed payloads fail with ErrDecoding, values that cannot be
// represented (invalid UTF-8, invalid JSON text) fail with ErrEncoding.
//
// Integer-keyed stores do not use the tagged encoding for keys. Their keys are
// fixed-width native-endian integers (EncodeIntKey) that the engines compare
// numerically.
package codec
