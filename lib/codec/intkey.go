package codec

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Integer Keys
// --------------------------------------------------------------------------

// IntKey is the set of key types accepted by integer-keyed stores.
type IntKey interface {
	~uint32 | ~uint64
}

// IntKeySize returns the fixed width of K in bytes.
func IntKeySize[K IntKey]() int {
	var k K
	if uint64(^k) == uint64(^uint32(0)) {
		return 4
	}
	return 8
}

// EncodeIntKey encodes k with the fixed-width native-endian layout the engines
// compare numerically. This is not the tagged value encoding.
func EncodeIntKey[K IntKey](k K) []byte {
	if IntKeySize[K]() == 4 {
		b := make([]byte, 4)
		binary.NativeEndian.PutUint32(b, uint32(k))
		return b
	}
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, uint64(k))
	return b
}

// DecodeIntKey reverses EncodeIntKey.
func DecodeIntKey[K IntKey](b []byte) (K, error) {
	size := IntKeySize[K]()
	if len(b) != size {
		return 0, newDecodingError(0, "integer key: expected %d bytes, got %d", size, len(b))
	}
	if size == 4 {
		return K(binary.NativeEndian.Uint32(b)), nil
	}
	return K(binary.NativeEndian.Uint64(b)), nil
}

// FormatIntKey renders an encoded integer key of either width.
func FormatIntKey(b []byte) string {
	switch len(b) {
	case 4:
		return fmt.Sprintf("%d", binary.NativeEndian.Uint32(b))
	case 8:
		return fmt.Sprintf("%d", binary.NativeEndian.Uint64(b))
	default:
		return fmt.Sprintf("%x", b)
	}
}
