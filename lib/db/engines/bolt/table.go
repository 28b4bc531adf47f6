package bolt

import (
	"bytes"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Table navigation
// --------------------------------------------------------------------------

// table navigates one named database. Plain tables store key/value pairs in
// the bucket directly. DupSort tables store a nested bucket per key whose keys
// are the duplicates (prefixed with dupPrefix, bbolt rejects empty keys).
// Every lookup opens a fresh bbolt cursor, so callers may modify the bucket
// between two calls.
type table struct {
	b   *bbolt.Bucket
	dup bool
}

const dupPrefix = 0x00

func encodeDup(v []byte) []byte {
	out := make([]byte, 0, len(v)+1)
	out = append(out, dupPrefix)
	return append(out, v...)
}

func decodeDup(k []byte) []byte {
	if len(k) == 0 {
		return k
	}
	return k[1:]
}

// value normalizes a value returned by bbolt, empty values may come back as nil
func value(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}

// seekExact returns the value of k in b
func seekExact(b *bbolt.Bucket, k []byte) ([]byte, bool) {
	k2, v := b.Cursor().Seek(k)
	if k2 == nil || !bytes.Equal(k2, k) {
		return nil, false
	}
	return value(v), true
}

func (t table) first() (k, v []byte, ok bool) {
	k, v = t.b.Cursor().First()
	if k == nil {
		return nil, nil, false
	}
	if t.dup {
		return t.firstOf(k)
	}
	return k, value(v), true
}

func (t table) last() (k, v []byte, ok bool) {
	k, v = t.b.Cursor().Last()
	if k == nil {
		return nil, nil, false
	}
	if t.dup {
		return t.lastOf(k)
	}
	return k, value(v), true
}

// firstOf returns the first duplicate of key
func (t table) firstOf(key []byte) (k, v []byte, ok bool) {
	if !t.dup {
		v, ok = seekExact(t.b, key)
		return key, v, ok
	}
	nb := t.b.Bucket(key)
	if nb == nil {
		return nil, nil, false
	}
	dk, _ := nb.Cursor().First()
	if dk == nil {
		return nil, nil, false
	}
	return key, decodeDup(dk), true
}

// lastOf returns the last duplicate of key
func (t table) lastOf(key []byte) (k, v []byte, ok bool) {
	if !t.dup {
		return t.firstOf(key)
	}
	nb := t.b.Bucket(key)
	if nb == nil {
		return nil, nil, false
	}
	dk, _ := nb.Cursor().Last()
	if dk == nil {
		return nil, nil, false
	}
	return key, decodeDup(dk), true
}

// nextKey returns the first entry of the smallest key > key
func (t table) nextKey(key []byte) (k, v []byte, ok bool) {
	c := t.b.Cursor()
	k, v = c.Seek(key)
	if k != nil && bytes.Equal(k, key) {
		k, v = c.Next()
	}
	if k == nil {
		return nil, nil, false
	}
	if t.dup {
		return t.firstOf(k)
	}
	return k, value(v), true
}

// prevKey returns the last entry of the largest key < key
func (t table) prevKey(key []byte) (k, v []byte, ok bool) {
	c := t.b.Cursor()
	if k, _ = c.Seek(key); k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil {
		return nil, nil, false
	}
	if t.dup {
		return t.lastOf(k)
	}
	return k, value(v), true
}

// ceil returns the smallest entry >= key (and >= val for DupSort tables)
func (t table) ceil(key, val []byte) (k, v []byte, ok bool) {
	if !t.dup {
		k, v = t.b.Cursor().Seek(key)
		if k == nil {
			return nil, nil, false
		}
		return k, value(v), true
	}
	if nb := t.b.Bucket(key); nb != nil {
		if dk, _ := nb.Cursor().Seek(encodeDup(val)); dk != nil {
			return key, decodeDup(dk), true
		}
	}
	return t.nextKey(key)
}

// after returns the smallest entry > key/val
func (t table) after(key, val []byte) (k, v []byte, ok bool) {
	if k, v, ok = t.nextDup(key, val); ok {
		return k, v, true
	}
	return t.nextKey(key)
}

// before returns the largest entry < key/val
func (t table) before(key, val []byte) (k, v []byte, ok bool) {
	if k, v, ok = t.prevDup(key, val); ok {
		return k, v, true
	}
	return t.prevKey(key)
}

// nextDup returns the smallest duplicate of key > val
func (t table) nextDup(key, val []byte) (k, v []byte, ok bool) {
	if !t.dup {
		return nil, nil, false
	}
	nb := t.b.Bucket(key)
	if nb == nil {
		return nil, nil, false
	}
	enc := encodeDup(val)
	c := nb.Cursor()
	dk, _ := c.Seek(enc)
	if dk != nil && bytes.Equal(dk, enc) {
		dk, _ = c.Next()
	}
	if dk == nil {
		return nil, nil, false
	}
	return key, decodeDup(dk), true
}

// prevDup returns the largest duplicate of key < val
func (t table) prevDup(key, val []byte) (k, v []byte, ok bool) {
	if !t.dup {
		return nil, nil, false
	}
	nb := t.b.Bucket(key)
	if nb == nil {
		return nil, nil, false
	}
	c := nb.Cursor()
	var dk []byte
	if dk, _ = c.Seek(encodeDup(val)); dk == nil {
		dk, _ = c.Last()
	} else {
		dk, _ = c.Prev()
	}
	if dk == nil {
		return nil, nil, false
	}
	return key, decodeDup(dk), true
}

// count returns the number of entries. Page statistics do not include
// uncommitted changes, so write transactions and DupSort tables iterate.
func (t table) count() uint64 {
	if !t.dup && !t.b.Tx().Writable() {
		return uint64(t.b.Stats().KeyN)
	}
	var n uint64
	c := t.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if !t.dup {
			n++
		} else if nb := t.b.Bucket(k); nb != nil {
			dc := nb.Cursor()
			for dk, _ := dc.First(); dk != nil; dk, _ = dc.Next() {
				n++
			}
		}
	}
	return n
}
