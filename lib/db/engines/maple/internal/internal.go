package internal

import (
	"bytes"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Entry Type (key-value pair stored in a table)
// --------------------------------------------------------------------------

// Entry is one key/value pair of a table
type Entry struct {
	Key   []byte
	Value []byte
	end   bool // sorts after every value of Key, only used as a search pivot
}

// KeyEnd returns a pivot that sorts after all duplicates of key
func KeyEnd(key []byte) Entry {
	return Entry{Key: key, end: true}
}

// Cost returns the number of bytes accounted for the entry
func (e Entry) Cost() int64 {
	return int64(len(e.Key)+len(e.Value)) + EntryOverhead
}

// EntryOverhead is added to the size of every stored entry
const EntryOverhead = 16

func lessKey(a, b Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return !a.end && b.end
}

func lessKeyValue(a, b Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.end || b.end {
		return !a.end && b.end
	}
	return bytes.Compare(a.Value, b.Value) < 0
}

// --------------------------------------------------------------------------
// Table Type (one named database)
// --------------------------------------------------------------------------

// degree of the b-trees
const degree = 32

// Table is one named database. A committed table is never modified, writers
// work on a Clone which shares unmodified nodes with the original.
type Table struct {
	Flags db.DBFlags
	Tree  *btree.BTreeG[Entry]
	Size  int64 // sum of Entry.Cost of all entries
	less  btree.LessFunc[Entry]
}

// NewTable creates an empty table
func NewTable(flags db.DBFlags) *Table {
	less := lessKey
	if flags&db.FlagDupSort != 0 {
		less = lessKeyValue
	}
	return &Table{
		Flags: flags.SortFlags(),
		Tree:  btree.NewG[Entry](degree, less),
		less:  less,
	}
}

// Clone returns a copy-on-write copy of the table
//
// Thread-safety: Clone must not run concurrently with writes to t.
// Readers of t are not affected.
func (t *Table) Clone() *Table {
	return &Table{
		Flags: t.Flags,
		Tree:  t.Tree.Clone(),
		Size:  t.Size,
		less:  t.less,
	}
}

// DupSort reports whether the table holds sorted duplicates
func (t *Table) DupSort() bool {
	return t.Flags&db.FlagDupSort != 0
}

// Len returns the number of entries
func (t *Table) Len() int {
	return t.Tree.Len()
}

// --------------------------------------------------------------------------
// Lookups
// --------------------------------------------------------------------------

// Ceil returns the smallest entry >= pivot
func (t *Table) Ceil(pivot Entry) (found Entry, ok bool) {
	t.Tree.AscendGreaterOrEqual(pivot, func(e Entry) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

// After returns the smallest entry > pivot
func (t *Table) After(pivot Entry) (found Entry, ok bool) {
	t.Tree.AscendGreaterOrEqual(pivot, func(e Entry) bool {
		if !t.less(pivot, e) {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// Floor returns the largest entry <= pivot
func (t *Table) Floor(pivot Entry) (found Entry, ok bool) {
	t.Tree.DescendLessOrEqual(pivot, func(e Entry) bool {
		found, ok = e, true
		return false
	})
	return found, ok
}

// Before returns the largest entry < pivot
func (t *Table) Before(pivot Entry) (found Entry, ok bool) {
	t.Tree.DescendLessOrEqual(pivot, func(e Entry) bool {
		if !t.less(e, pivot) {
			return true
		}
		found, ok = e, true
		return false
	})
	return found, ok
}

// First returns the first duplicate of key
func (t *Table) First(key []byte) (Entry, bool) {
	e, ok := t.Ceil(Entry{Key: key})
	if !ok || !bytes.Equal(e.Key, key) {
		return Entry{}, false
	}
	return e, true
}

// Last returns the last duplicate of key
func (t *Table) Last(key []byte) (Entry, bool) {
	e, ok := t.Floor(KeyEnd(key))
	if !ok || !bytes.Equal(e.Key, key) {
		return Entry{}, false
	}
	return e, true
}

// NextKey returns the first duplicate of the smallest key > key
func (t *Table) NextKey(key []byte) (Entry, bool) {
	return t.Ceil(KeyEnd(key))
}

// Dups returns all entries of key in order
func (t *Table) Dups(key []byte) []Entry {
	var out []Entry
	t.Tree.AscendGreaterOrEqual(Entry{Key: key}, func(e Entry) bool {
		if !bytes.Equal(e.Key, key) {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// --------------------------------------------------------------------------
// Mutations (only on tables owned by the writer)
// --------------------------------------------------------------------------

// Insert stores e and returns the change of Size
func (t *Table) Insert(e Entry) int64 {
	delta := e.Cost()
	if old, replaced := t.Tree.ReplaceOrInsert(e); replaced {
		delta -= old.Cost()
	}
	t.Size += delta
	return delta
}

// Remove deletes the entry equal to e and returns the change of Size
func (t *Table) Remove(e Entry) (int64, bool) {
	old, ok := t.Tree.Delete(e)
	if !ok {
		return 0, false
	}
	t.Size -= old.Cost()
	return -old.Cost(), true
}
