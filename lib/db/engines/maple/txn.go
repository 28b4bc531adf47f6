package maple

import (
	"bytes"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple/internal"
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// txn implements db.ReadTxn and db.WriteTxn. Read transactions use the
// tables of one committed state. The write transaction works on a copy of
// the table map and clones a table before its first modification.
//
// Thread-safety: A transaction must only be used by one goroutine at a time.
type txn struct {
	env      *mapleEnv
	txnID    uint64
	tables   map[string]*internal.Table
	owned    map[string]bool // tables cloned by this transaction
	size     int64
	writable bool
	done     bool
}

// table returns the table of dbi. Tables created after the transaction
// started are empty.
func (t *txn) table(dbi db.DBI) (*internal.Table, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	name, flags, err := t.env.resolve(dbi)
	if err != nil {
		return nil, err
	}
	if tbl, ok := t.tables[name]; ok {
		return tbl, nil
	}
	return internal.NewTable(flags), nil
}

// mutable returns a table of dbi that may be modified by this transaction
func (t *txn) mutable(dbi db.DBI) (*internal.Table, error) {
	if t.done {
		return nil, db.ErrTxnDone
	}
	if !t.writable {
		return nil, db.ErrReadOnly
	}
	name, flags, err := t.env.resolve(dbi)
	if err != nil {
		return nil, err
	}
	tbl, ok := t.tables[name]
	switch {
	case !ok:
		tbl = internal.NewTable(flags)
	case !t.owned[name]:
		tbl = tbl.Clone()
	default:
		return tbl, nil
	}
	t.tables[name] = tbl
	t.owned[name] = true
	return tbl, nil
}

// storedKey converts key into the form kept in the tree
func storedKey(tbl *internal.Table, key []byte) ([]byte, error) {
	if tbl.Flags&db.FlagIntegerKey != 0 {
		return db.OrderedIntegerKey(key)
	}
	if len(key) == 0 {
		return nil, db.ErrBadValSize
	}
	return key, nil
}

// returnedKey reverses storedKey
func returnedKey(tbl *internal.Table, key []byte) []byte {
	if tbl.Flags&db.FlagIntegerKey != 0 {
		if native, err := db.NativeIntegerKey(key); err == nil {
			return native
		}
	}
	return key
}

func (t *txn) Get(dbi db.DBI, key []byte) ([]byte, error) {
	tbl, err := t.table(dbi)
	if err != nil {
		return nil, err
	}
	k, err := storedKey(tbl, key)
	if err != nil {
		return nil, err
	}
	e, ok := tbl.First(k)
	if !ok {
		return nil, db.ErrNotFound
	}
	return e.Value, nil
}

func (t *txn) Cursor(dbi db.DBI) (db.Cursor, error) {
	if _, err := t.table(dbi); err != nil {
		return nil, err
	}
	return &cursor{txn: t, dbi: dbi}, nil
}

func (t *txn) Stat(dbi db.DBI) (db.Stat, error) {
	tbl, err := t.table(dbi)
	if err != nil {
		return db.Stat{}, err
	}
	n := uint64(tbl.Len())
	stat := db.Stat{PageSize: pageSize, Entries: n}
	if n > 0 {
		stat.Depth = 1
		stat.LeafPages = n/64 + 1
	}
	return stat, nil
}

func (t *txn) Put(dbi db.DBI, key, val []byte, flags db.PutFlags) error {
	tbl, err := t.mutable(dbi)
	if err != nil {
		return err
	}
	k, err := storedKey(tbl, key)
	if err != nil {
		return err
	}
	e := internal.Entry{Key: bytes.Clone(k), Value: bytes.Clone(val)}
	if e.Value == nil {
		e.Value = []byte{}
	}

	delta := e.Cost()
	if tbl.DupSort() {
		if flags&db.PutNoOverwrite != 0 {
			if _, exists := tbl.First(k); exists {
				return db.ErrKeyExists
			}
		}
		if tbl.Tree.Has(e) {
			if flags&db.PutNoDupData != 0 {
				return db.ErrKeyExists
			}
			return nil
		}
	} else if old, exists := tbl.Tree.Get(e); exists {
		if flags&db.PutNoOverwrite != 0 {
			return db.ErrKeyExists
		}
		delta -= old.Cost()
	}

	if t.env.mapSize > 0 && t.size+delta > t.env.mapSize {
		return db.ErrMapFull
	}
	t.size += tbl.Insert(e)
	return nil
}

func (t *txn) Del(dbi db.DBI, key, val []byte) error {
	tbl, err := t.mutable(dbi)
	if err != nil {
		return err
	}
	k, err := storedKey(tbl, key)
	if err != nil {
		return err
	}

	if tbl.DupSort() && val != nil {
		delta, ok := tbl.Remove(internal.Entry{Key: k, Value: val})
		if !ok {
			return db.ErrNotFound
		}
		t.size += delta
		return nil
	}

	dups := tbl.Dups(k)
	if len(dups) == 0 {
		return db.ErrNotFound
	}
	for _, e := range dups {
		delta, _ := tbl.Remove(e)
		t.size += delta
	}
	return nil
}

func (t *txn) Clear(dbi db.DBI) error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	name, flags, err := t.env.resolve(dbi)
	if err != nil {
		return err
	}
	if old, ok := t.tables[name]; ok {
		t.size -= old.Size
	}
	t.tables[name] = internal.NewTable(flags)
	t.owned[name] = true
	return nil
}

// Commit publishes the tables of the transaction as the new committed state
func (t *txn) Commit() error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	t.done = true
	defer t.env.writer.Unlock()

	if len(t.owned) == 0 {
		return nil
	}
	return t.env.publish(&state{txnID: t.txnID, tables: t.tables, size: t.size})
}

// Abort discards the transaction, it is a no-op on finished transactions
func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	if t.writable {
		t.env.writer.Unlock()
	} else {
		t.env.readers.Add(-1)
	}
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// cursor remembers the last returned entry and searches relative to it, so it
// stays valid when the write transaction modifies the table.
type cursor struct {
	txn        *txn
	dbi        db.DBI
	pos        internal.Entry
	positioned bool
	closed     bool
}

func (c *cursor) Get(key, val []byte, op db.CursorOp) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, db.ErrInvalid
	}
	tbl, err := c.txn.table(c.dbi)
	if err != nil {
		return nil, nil, err
	}

	var (
		e        internal.Entry
		ok       bool
		absolute bool
	)
	switch op {
	case db.OpFirst:
		absolute = true
		e, ok = tbl.Tree.Min()
	case db.OpLast:
		absolute = true
		e, ok = tbl.Tree.Max()
	case db.OpNext:
		if !c.positioned {
			e, ok = tbl.Tree.Min()
		} else {
			e, ok = tbl.After(c.pos)
		}
	case db.OpPrev:
		if !c.positioned {
			e, ok = tbl.Tree.Max()
		} else {
			e, ok = tbl.Before(c.pos)
		}
	case db.OpSet, db.OpSetRange, db.OpGetBoth:
		absolute = true
		k, err := storedKey(tbl, key)
		if err != nil {
			return nil, nil, err
		}
		switch op {
		case db.OpSet:
			e, ok = tbl.First(k)
		case db.OpSetRange:
			e, ok = tbl.Ceil(internal.Entry{Key: k})
		default:
			e, ok = tbl.Tree.Get(internal.Entry{Key: k, Value: val})
			ok = ok && bytes.Equal(e.Value, val)
		}
	case db.OpFirstDup:
		if c.positioned {
			e, ok = tbl.First(c.pos.Key)
		}
	case db.OpLastDup:
		if c.positioned {
			e, ok = tbl.Last(c.pos.Key)
		}
	case db.OpNextDup:
		if c.positioned && tbl.DupSort() {
			e, ok = tbl.After(c.pos)
			ok = ok && bytes.Equal(e.Key, c.pos.Key)
		}
	case db.OpPrevDup:
		if c.positioned && tbl.DupSort() {
			e, ok = tbl.Before(c.pos)
			ok = ok && bytes.Equal(e.Key, c.pos.Key)
		}
	case db.OpNextNoDup:
		if !c.positioned {
			e, ok = tbl.Tree.Min()
		} else {
			e, ok = tbl.NextKey(c.pos.Key)
		}
	default:
		return nil, nil, db.ErrInvalid
	}

	if !ok {
		if absolute {
			c.positioned = false
		}
		return nil, nil, db.ErrNotFound
	}
	c.pos, c.positioned = e, true
	return returnedKey(tbl, e.Key), e.Value, nil
}

func (c *cursor) Close() {
	c.closed = true
}
