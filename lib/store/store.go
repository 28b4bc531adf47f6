package store

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
)

// --------------------------------------------------------------------------
// Store
// --------------------------------------------------------------------------

// PutFlags modify Store.PutWithFlags
type PutFlags uint

const (
	// NoOverwrite fails with RetCKeyExists if the key already has a value.
	NoOverwrite PutFlags = 1 << iota
	// NoDupData fails with RetCKeyExists if the key/value pair exists (multi stores).
	NoDupData
)

func (f PutFlags) backend() db.PutFlags {
	var out db.PutFlags
	if f&NoOverwrite != 0 {
		out |= db.PutNoOverwrite
	}
	if f&NoDupData != 0 {
		out |= db.PutNoDupData
	}
	return out
}

// Store is a handle to one named database with raw byte keys and typed
// values. Stores are bound to their environment, not to a transaction, and
// can be used with any transaction of the environment. Integer stores expect
// keys encoded with codec.EncodeIntKey, the typed views do that.
//
// Thread-safety: A Store is immutable and safe for concurrent use.
type Store struct {
	env  *Environment
	name string
	kind Kind
	dbi  db.DBI
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) Kind() Kind {
	return s.kind
}

func (s *Store) Environment() *Environment {
	return s.env
}

func (s *Store) bound(kind Kind) (*Store, error) {
	if s.kind != kind {
		return nil, NewError(RetCKindMismatch, fmt.Sprintf("store %q is a %s store, requested %s", s.name, s.kind, kind))
	}
	return s, nil
}

func (s *Store) read(txn Txn) (db.ReadTxn, error) {
	if txn == nil {
		return nil, NewError(RetCInvalidOperation, "nil transaction")
	}
	if !s.env.same(txn.Environment()) {
		return nil, ErrEnvironmentMismatch
	}
	return txn.backend()
}

func (s *Store) write(txn *WriteTxn) (db.WriteTxn, error) {
	if txn == nil {
		return nil, NewError(RetCInvalidOperation, "nil transaction")
	}
	if !s.env.same(txn.env) {
		return nil, ErrEnvironmentMismatch
	}
	return txn.writer()
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the value of key, the first (smallest) one for multi stores.
// A missing key is reported as (nil, false, nil).
func (s *Store) Get(txn Txn, key []byte) (codec.Value, bool, error) {
	raw, err := s.read(txn)
	if err != nil {
		return nil, false, err
	}
	b, err := raw.Get(s.dbi, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, backendError("get", err)
	}
	v, err := codec.Decode(b)
	if err != nil {
		return nil, false, codecError(err)
	}
	return v, true, nil
}

// MustGet is Get that reports a missing key as ErrNotFound
func (s *Store) MustGet(txn Txn, key []byte) (codec.Value, error) {
	v, ok, err := s.Get(txn, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, WrapError(RetCNotFound, fmt.Sprintf("key %q in store %s", key, s.name), db.ErrNotFound)
	}
	return v, nil
}

// GetAs returns the value of key as T. A value of another type fails with
// ErrUnexpectedType, a missing key returns (zero, false, nil).
func GetAs[T codec.Value](txn Txn, s *Store, key []byte) (T, bool, error) {
	var zero T
	raw, err := s.read(txn)
	if err != nil {
		return zero, false, err
	}
	b, err := raw.Get(s.dbi, key)
	if err != nil {
		if IsNotFound(err) {
			return zero, false, nil
		}
		return zero, false, backendError("get", err)
	}
	v, err := codec.DecodeAs[T](b)
	if err != nil {
		return zero, false, codecError(err)
	}
	return v, true, nil
}

// GetAll returns every value of key in sorted order. Single stores return
// at most one value.
func (s *Store) GetAll(txn Txn, key []byte) ([]codec.Value, error) {
	raw, err := s.read(txn)
	if err != nil {
		return nil, err
	}
	cur, err := raw.Cursor(s.dbi)
	if err != nil {
		return nil, backendError("get all", err)
	}
	defer cur.Close()

	var values []codec.Value
	_, b, err := cur.Get(key, nil, db.OpSet)
	for err == nil {
		v, derr := codec.Decode(b)
		if derr != nil {
			return nil, codecError(derr)
		}
		values = append(values, v)
		if !s.kind.DupSort() {
			break
		}
		_, b, err = cur.Get(nil, nil, db.OpNextDup)
	}
	if err != nil && !IsNotFound(err) {
		return nil, backendError("get all", err)
	}
	return values, nil
}

// Iterate calls fn for every entry in key order, starting at the smallest
// key >= from (the first key if from is nil). Returning ErrStopIteration
// from fn ends the iteration without error.
func (s *Store) Iterate(txn Txn, from []byte, fn func(key []byte, v codec.Value) error) error {
	cur, err := s.OpenCursor(txn)
	if err != nil {
		return err
	}
	defer cur.Close()

	var (
		k  []byte
		v  codec.Value
		ok bool
	)
	if from == nil {
		k, v, ok, err = cur.First()
	} else {
		k, v, ok, err = cur.Seek(from)
	}
	for ; ok && err == nil; k, v, ok, err = cur.Next() {
		if ferr := fn(k, v); ferr != nil {
			if errors.Is(ferr, ErrStopIteration) {
				return nil
			}
			return ferr
		}
	}
	return err
}

// Stat returns statistics of the store as seen by txn
func (s *Store) Stat(txn Txn) (db.Stat, error) {
	raw, err := s.read(txn)
	if err != nil {
		return db.Stat{}, err
	}
	stat, err := raw.Stat(s.dbi)
	return stat, backendError("stat", err)
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

// Put stores v under key. Single stores overwrite, multi stores add v to
// the values of key (a no-op if it is present).
func (s *Store) Put(txn *WriteTxn, key []byte, v codec.Value) error {
	return s.PutWithFlags(txn, key, v, 0)
}

// PutWithFlags is Put with NoOverwrite or NoDupData
func (s *Store) PutWithFlags(txn *WriteTxn, key []byte, v codec.Value, flags PutFlags) error {
	raw, err := s.write(txn)
	if err != nil {
		return err
	}
	if flags&NoDupData != 0 && !s.kind.DupSort() {
		return NewError(RetCInvalidOperation, "NoDupData requires a multi store")
	}
	b, err := codec.Encode(v)
	if err != nil {
		return codecError(err)
	}
	return backendError("put", raw.Put(s.dbi, key, b, flags.backend()))
}

// Delete removes key with all its values. A missing key fails with ErrNotFound.
func (s *Store) Delete(txn *WriteTxn, key []byte) error {
	raw, err := s.write(txn)
	if err != nil {
		return err
	}
	return backendError("delete", raw.Del(s.dbi, key, nil))
}

// DeleteValue removes one value of key from a multi store. A missing pair
// fails with ErrNotFound.
func (s *Store) DeleteValue(txn *WriteTxn, key []byte, v codec.Value) error {
	raw, err := s.write(txn)
	if err != nil {
		return err
	}
	if !s.kind.DupSort() {
		return NewError(RetCInvalidOperation, "DeleteValue requires a multi store")
	}
	b, err := codec.Encode(v)
	if err != nil {
		return codecError(err)
	}
	return backendError("delete value", raw.Del(s.dbi, key, b))
}

// Clear removes every entry of the store
func (s *Store) Clear(txn *WriteTxn) error {
	raw, err := s.write(txn)
	if err != nil {
		return err
	}
	return backendError("clear", raw.Clear(s.dbi))
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// ErrStopIteration ends Iterate early without an error
var ErrStopIteration = errors.New("stop iteration")

// IsNotFound reports whether err is a store or backend not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, db.ErrNotFound)
}

func cloneKey(k []byte) []byte {
	return bytes.Clone(k)
}
