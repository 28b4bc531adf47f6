//go:build mdbx

package mdbx

import (
	"bytes"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/erigontech/mdbx-go/mdbx"
	"runtime"
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// txn wraps a libmdbx transaction and implements db.ReadTxn and db.WriteTxn
//
// Thread-safety: A transaction must only be used by one goroutine at a time.
type txn struct {
	env      *mdbxEnv
	mtxn     *mdbx.Txn
	writable bool
	done     bool
}

func (t *txn) handle(dbi db.DBI) (handle, error) {
	if t.done {
		return handle{}, db.ErrTxnDone
	}
	return t.env.resolve(dbi)
}

// storedKey converts key into the form kept by libmdbx. Integer keys are
// stored big-endian, so the byte order of libmdbx is their numeric order.
func storedKey(h handle, key []byte) ([]byte, error) {
	if h.flags&db.FlagIntegerKey != 0 {
		return db.OrderedIntegerKey(key)
	}
	if len(key) == 0 {
		return nil, db.ErrBadValSize
	}
	return key, nil
}

// returnedKey reverses storedKey
func returnedKey(h handle, key []byte) []byte {
	if h.flags&db.FlagIntegerKey != 0 {
		if native, err := db.NativeIntegerKey(key); err == nil {
			return native
		}
	}
	return key
}

func (t *txn) Get(dbi db.DBI, key []byte) ([]byte, error) {
	h, err := t.handle(dbi)
	if err != nil {
		return nil, err
	}
	k, err := storedKey(h, key)
	if err != nil {
		return nil, err
	}
	val, err := t.mtxn.Get(h.dbi, k)
	if err != nil {
		return nil, mapError(err)
	}
	return val, nil
}

func (t *txn) Cursor(dbi db.DBI) (db.Cursor, error) {
	h, err := t.handle(dbi)
	if err != nil {
		return nil, err
	}
	mc, err := t.mtxn.OpenCursor(h.dbi)
	if err != nil {
		return nil, mapError(err)
	}
	return &cursor{txn: t, h: h, mc: mc}, nil
}

func (t *txn) Stat(dbi db.DBI) (db.Stat, error) {
	h, err := t.handle(dbi)
	if err != nil {
		return db.Stat{}, err
	}
	s, err := t.mtxn.StatDBI(h.dbi)
	if err != nil {
		return db.Stat{}, mapError(err)
	}
	return convertStat(s), nil
}

// writeHandle returns the handle of dbi and the stored form of key
func (t *txn) writeHandle(dbi db.DBI, key []byte) (handle, []byte, error) {
	if t.done {
		return handle{}, nil, db.ErrTxnDone
	}
	if !t.writable {
		return handle{}, nil, db.ErrReadOnly
	}
	h, err := t.env.resolve(dbi)
	if err != nil {
		return handle{}, nil, err
	}
	k, err := storedKey(h, key)
	return h, k, err
}

func (t *txn) Put(dbi db.DBI, key, val []byte, flags db.PutFlags) error {
	h, k, err := t.writeHandle(dbi, key)
	if err != nil {
		return err
	}
	var native uint
	if flags&db.PutNoOverwrite != 0 {
		native |= mdbx.NoOverwrite
	}
	if flags&db.PutNoDupData != 0 && h.flags&db.FlagDupSort != 0 {
		native |= mdbx.NoDupData
	}
	if val == nil {
		val = []byte{}
	}
	err = t.mtxn.Put(h.dbi, k, val, native)
	// an existing pair is a no-op unless NoDupData was requested
	if err != nil && mdbx.IsErrno(err, mdbx.KeyExist) && native == 0 {
		return nil
	}
	return mapError(err)
}

func (t *txn) Del(dbi db.DBI, key, val []byte) error {
	h, k, err := t.writeHandle(dbi, key)
	if err != nil {
		return err
	}
	if h.flags&db.FlagDupSort == 0 {
		val = nil
	}
	return mapError(t.mtxn.Del(h.dbi, k, val))
}

func (t *txn) Clear(dbi db.DBI) error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	h, err := t.env.resolve(dbi)
	if err != nil {
		return err
	}
	return mapError(t.mtxn.Drop(h.dbi, false))
}

func (t *txn) Commit() error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	t.done = true
	_, err := t.mtxn.Commit()
	runtime.UnlockOSThread()
	return mapError(err)
}

func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.mtxn.Abort()
	if t.writable {
		runtime.UnlockOSThread()
	}
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// cursor wraps a libmdbx cursor. It remembers the last returned entry (key in
// stored form) to
// restore the position after a failed relative move, and emulates the
// duplicate operations on databases without DupSort.
type cursor struct {
	txn        *txn
	h          handle
	mc         *mdbx.Cursor
	key, val   []byte
	positioned bool
	closed     bool
}

var nativeOps = map[db.CursorOp]uint{
	db.OpFirst:     mdbx.First,
	db.OpLast:      mdbx.Last,
	db.OpNext:      mdbx.Next,
	db.OpPrev:      mdbx.Prev,
	db.OpSet:       mdbx.Set,
	db.OpSetRange:  mdbx.SetRange,
	db.OpGetBoth:   mdbx.GetBoth,
	db.OpFirstDup:  mdbx.FirstDup,
	db.OpLastDup:   mdbx.LastDup,
	db.OpNextDup:   mdbx.NextDup,
	db.OpPrevDup:   mdbx.PrevDup,
	db.OpNextNoDup: mdbx.NextNoDup,
}

func (c *cursor) Get(key, val []byte, op db.CursorOp) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, db.ErrInvalid
	}
	if c.txn.done {
		return nil, nil, db.ErrTxnDone
	}
	native, ok := nativeOps[op]
	if !ok {
		return nil, nil, db.ErrInvalid
	}

	var setKey, setVal []byte
	relative := false
	switch op {
	case db.OpSet, db.OpSetRange:
		k, err := storedKey(c.h, key)
		if err != nil {
			return nil, nil, err
		}
		setKey = k
	case db.OpGetBoth:
		k, err := storedKey(c.h, key)
		if err != nil {
			return nil, nil, err
		}
		setKey, setVal = k, val
		if c.h.flags&db.FlagDupSort == 0 {
			return c.getBothPlain(k, val)
		}
	case db.OpNext, db.OpPrev, db.OpNextNoDup:
		relative = c.positioned
	case db.OpFirstDup, db.OpLastDup, db.OpNextDup, db.OpPrevDup:
		if !c.positioned {
			return nil, nil, db.ErrNotFound
		}
		relative = true
		if c.h.flags&db.FlagDupSort == 0 {
			switch op {
			case db.OpFirstDup, db.OpLastDup:
				return returnedKey(c.h, c.key), c.val, nil
			default:
				return nil, nil, db.ErrNotFound
			}
		}
	}

	k, v, err := c.mc.Get(setKey, setVal, native)
	if err != nil {
		if !mdbx.IsNotFound(err) {
			return nil, nil, mapError(err)
		}
		if relative {
			c.restore()
		} else {
			c.positioned = false
		}
		return nil, nil, db.ErrNotFound
	}
	if op == db.OpSet && k == nil {
		k = setKey
	}
	c.key = append(c.key[:0], k...)
	c.val = append(c.val[:0], v...)
	c.positioned = true
	return returnedKey(c.h, k), v, nil
}

// getBothPlain positions on key (stored form) if its value equals val
func (c *cursor) getBothPlain(key, val []byte) ([]byte, []byte, error) {
	k, v, err := c.mc.Get(key, nil, mdbx.Set)
	if err == nil && bytes.Equal(v, val) {
		if k == nil {
			k = key
		}
		c.key = append(c.key[:0], k...)
		c.val = append(c.val[:0], v...)
		c.positioned = true
		return returnedKey(c.h, k), v, nil
	}
	c.positioned = false
	if err != nil && !mdbx.IsNotFound(err) {
		return nil, nil, mapError(err)
	}
	return nil, nil, db.ErrNotFound
}

// restore moves the libmdbx cursor back to the last returned entry
func (c *cursor) restore() {
	var err error
	if c.h.flags&db.FlagDupSort != 0 {
		_, _, err = c.mc.Get(c.key, c.val, mdbx.GetBoth)
	} else {
		_, _, err = c.mc.Get(c.key, nil, mdbx.Set)
	}
	if err != nil {
		// the entry was deleted by this transaction
		c.positioned = false
	}
}

func (c *cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if !c.txn.done {
		c.mc.Close()
	}
}
