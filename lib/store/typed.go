package store

import (
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
)

// --------------------------------------------------------------------------
// Typed Views
// --------------------------------------------------------------------------

// view is the common part of the typed stores, it converts keys of type K
type view[K any] struct {
	store  *Store
	encode func(K) []byte
	decode func([]byte) (K, error)
}

// Store returns the untyped store
func (v *view[K]) Store() *Store {
	return v.store
}

// Get returns the value of key, (nil, false, nil) if it is missing
func (v *view[K]) Get(txn Txn, key K) (codec.Value, bool, error) {
	return v.store.Get(txn, v.encode(key))
}

// MustGet returns the value of key or ErrNotFound
func (v *view[K]) MustGet(txn Txn, key K) (codec.Value, error) {
	return v.store.MustGet(txn, v.encode(key))
}

// Put stores value under key
func (v *view[K]) Put(txn *WriteTxn, key K, value codec.Value) error {
	return v.store.Put(txn, v.encode(key), value)
}

// Delete removes key with all its values
func (v *view[K]) Delete(txn *WriteTxn, key K) error {
	return v.store.Delete(txn, v.encode(key))
}

// Clear removes every entry
func (v *view[K]) Clear(txn *WriteTxn) error {
	return v.store.Clear(txn)
}

// Stat returns statistics of the store
func (v *view[K]) Stat(txn Txn) (db.Stat, error) {
	return v.store.Stat(txn)
}

// Iterate calls fn for every entry starting at the first key (from == nil)
// or the smallest key >= *from
func (v *view[K]) Iterate(txn Txn, from *K, fn func(key K, value codec.Value) error) error {
	var start []byte
	if from != nil {
		start = v.encode(*from)
	}
	return v.store.Iterate(txn, start, func(k []byte, value codec.Value) error {
		key, err := v.decode(k)
		if err != nil {
			return codecError(err)
		}
		return fn(key, value)
	})
}

// OpenCursor opens a cursor that returns typed keys
func (v *view[K]) OpenCursor(txn Txn) (*KeyCursor[K], error) {
	cur, err := v.store.OpenCursor(txn)
	if err != nil {
		return nil, err
	}
	return &KeyCursor[K]{cur: cur, view: v}, nil
}

// multiView adds the operations of stores with multiple values per key
type multiView[K any] struct {
	view[K]
}

// GetAll returns every value of key in sorted order
func (v *multiView[K]) GetAll(txn Txn, key K) ([]codec.Value, error) {
	return v.store.GetAll(txn, v.encode(key))
}

// PutWithFlags stores value under key, NoDupData fails if the pair exists
func (v *multiView[K]) PutWithFlags(txn *WriteTxn, key K, value codec.Value, flags PutFlags) error {
	return v.store.PutWithFlags(txn, v.encode(key), value, flags)
}

// DeleteValue removes one value of key
func (v *multiView[K]) DeleteValue(txn *WriteTxn, key K, value codec.Value) error {
	return v.store.DeleteValue(txn, v.encode(key), value)
}

// SingleStore holds one value per key, keys are ordered byte-wise
type SingleStore[K Key] struct{ view[K] }

// MultiStore holds a sorted set of values per key, keys are ordered byte-wise
type MultiStore[K Key] struct{ multiView[K] }

// IntegerStore holds one value per key, keys are ordered numerically
type IntegerStore[K codec.IntKey] struct{ view[K] }

// MultiIntegerStore holds a sorted set of values per key, keys are ordered numerically
type MultiIntegerStore[K codec.IntKey] struct{ multiView[K] }

func byteView[K Key](s *Store) view[K] {
	return view[K]{
		store:  s,
		encode: func(k K) []byte { return []byte(k) },
		decode: func(b []byte) (K, error) { return K(b), nil },
	}
}

func intView[K codec.IntKey](s *Store) view[K] {
	return view[K]{
		store:  s,
		encode: codec.EncodeIntKey[K],
		decode: codec.DecodeIntKey[K],
	}
}

// OpenSingle opens (or creates) a single store
func OpenSingle[K Key](env *Environment, name string, opts *StoreOptions) (*SingleStore[K], error) {
	s, err := env.OpenStore(name, KindSingle, opts)
	if err != nil {
		return nil, err
	}
	return &SingleStore[K]{byteView[K](s)}, nil
}

// OpenMulti opens (or creates) a multi store
func OpenMulti[K Key](env *Environment, name string, opts *StoreOptions) (*MultiStore[K], error) {
	s, err := env.OpenStore(name, KindDupSort, opts)
	if err != nil {
		return nil, err
	}
	return &MultiStore[K]{multiView[K]{byteView[K](s)}}, nil
}

// OpenInteger opens (or creates) an integer store
func OpenInteger[K codec.IntKey](env *Environment, name string, opts *StoreOptions) (*IntegerStore[K], error) {
	s, err := env.OpenStore(name, KindInteger, opts)
	if err != nil {
		return nil, err
	}
	return &IntegerStore[K]{intView[K](s)}, nil
}

// OpenMultiInteger opens (or creates) a multi integer store
func OpenMultiInteger[K codec.IntKey](env *Environment, name string, opts *StoreOptions) (*MultiIntegerStore[K], error) {
	s, err := env.OpenStore(name, KindDupSortInteger, opts)
	if err != nil {
		return nil, err
	}
	return &MultiIntegerStore[K]{multiView[K]{intView[K](s)}}, nil
}

// --------------------------------------------------------------------------
// Typed Cursor
// --------------------------------------------------------------------------

// KeyCursor is a Cursor of a typed store
type KeyCursor[K any] struct {
	cur  *Cursor
	view *view[K]
}

func (c *KeyCursor[K]) typed(k []byte, v codec.Value, ok bool, err error) (K, codec.Value, bool, error) {
	var zero K
	if !ok || err != nil {
		return zero, nil, false, err
	}
	key, err := c.view.decode(k)
	if err != nil {
		return zero, nil, false, codecError(err)
	}
	return key, v, true, nil
}

func (c *KeyCursor[K]) First() (K, codec.Value, bool, error)     { return c.typed(c.cur.First()) }
func (c *KeyCursor[K]) Last() (K, codec.Value, bool, error)      { return c.typed(c.cur.Last()) }
func (c *KeyCursor[K]) Next() (K, codec.Value, bool, error)      { return c.typed(c.cur.Next()) }
func (c *KeyCursor[K]) Prev() (K, codec.Value, bool, error)      { return c.typed(c.cur.Prev()) }
func (c *KeyCursor[K]) NextNoDup() (K, codec.Value, bool, error) { return c.typed(c.cur.NextNoDup()) }
func (c *KeyCursor[K]) FirstDup() (K, codec.Value, bool, error)  { return c.typed(c.cur.FirstDup()) }
func (c *KeyCursor[K]) LastDup() (K, codec.Value, bool, error)   { return c.typed(c.cur.LastDup()) }
func (c *KeyCursor[K]) NextDup() (K, codec.Value, bool, error)   { return c.typed(c.cur.NextDup()) }
func (c *KeyCursor[K]) PrevDup() (K, codec.Value, bool, error)   { return c.typed(c.cur.PrevDup()) }

// Seek moves to the first entry with a key >= key
func (c *KeyCursor[K]) Seek(key K) (K, codec.Value, bool, error) {
	return c.typed(c.cur.Seek(c.view.encode(key)))
}

// Close releases the cursor
func (c *KeyCursor[K]) Close() {
	c.cur.Close()
}
