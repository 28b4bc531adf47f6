package db

import (
	"encoding/binary"
)

// --------------------------------------------------------------------------
// Integer Key Helpers
// --------------------------------------------------------------------------

// OrderedIntegerKey converts a 4 or 8 byte native-endian integer key into its
// big-endian form, so that byte-wise comparison matches numeric order.
// Engines without native integer keys store the returned form.
func OrderedIntegerKey(key []byte) ([]byte, error) {
	out := make([]byte, len(key))
	switch len(key) {
	case 4:
		binary.BigEndian.PutUint32(out, binary.NativeEndian.Uint32(key))
	case 8:
		binary.BigEndian.PutUint64(out, binary.NativeEndian.Uint64(key))
	default:
		return nil, ErrBadValSize
	}
	return out, nil
}

// NativeIntegerKey reverses OrderedIntegerKey.
func NativeIntegerKey(key []byte) ([]byte, error) {
	out := make([]byte, len(key))
	switch len(key) {
	case 4:
		binary.NativeEndian.PutUint32(out, binary.BigEndian.Uint32(key))
	case 8:
		binary.NativeEndian.PutUint64(out, binary.BigEndian.Uint64(key))
	default:
		return nil, ErrBadValSize
	}
	return out, nil
}

// ValidName reports whether name can be used for a named database.
func ValidName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return false
		}
	}
	return true
}
