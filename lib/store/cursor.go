package store

import (
	"github.com/ValentinKolb/rKV/lib/codec"
	"github.com/ValentinKolb/rKV/lib/db"
)

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

type cursorState uint8

const (
	cursorUnpositioned cursorState = iota
	cursorPositioned
	cursorPastEnd     // a forward move ran out of entries
	cursorBeforeStart // a backward move ran out of entries

	keepState cursorState = 0xff
)

// Cursor is a position in the key order of one store. Every move returns
// (key, value, ok, err), ok is false once the move runs out of entries.
// Running out is terminal in that direction: Next after the end keeps
// returning ok=false, Prev then resumes with the last entry (and the other
// way round).
//
// A cursor is only valid while its transaction is active, afterwards every
// move fails with ErrTransactionFinished. Returned keys are copies, values
// never alias backend memory.
//
// Thread-safety: A cursor must only be used by the goroutine of its transaction.
type Cursor struct {
	store  *Store
	txn    Txn
	raw    db.Cursor
	state  cursorState
	closed bool
}

// OpenCursor opens a cursor on the store, it starts unpositioned
func (s *Store) OpenCursor(txn Txn) (*Cursor, error) {
	raw, err := s.read(txn)
	if err != nil {
		return nil, err
	}
	cur, err := raw.Cursor(s.dbi)
	if err != nil {
		return nil, backendError("open cursor", err)
	}
	return &Cursor{store: s, txn: txn, raw: cur}, nil
}

func (c *Cursor) check() error {
	if c.closed {
		return NewError(RetCInvalidOperation, "cursor closed")
	}
	if c.txn.Status() != TxnActive {
		return ErrTransactionFinished
	}
	return nil
}

func (c *Cursor) checkDup() error {
	if err := c.check(); err != nil {
		return err
	}
	if !c.store.kind.DupSort() {
		return NewError(RetCInvalidOperation, "duplicate navigation requires a multi store")
	}
	return nil
}

// move runs op on the backend cursor. exhausted is the state after running
// out of entries.
func (c *Cursor) move(key []byte, op db.CursorOp, exhausted cursorState) ([]byte, codec.Value, bool, error) {
	k, b, err := c.raw.Get(key, nil, op)
	if err != nil {
		if !IsNotFound(err) {
			return nil, nil, false, backendError("cursor "+op.String(), err)
		}
		if exhausted != keepState {
			c.state = exhausted
		}
		return nil, nil, false, nil
	}
	// the backend cursor has moved even if the value does not decode
	c.state = cursorPositioned
	v, err := codec.Decode(b)
	if err != nil {
		return nil, nil, false, codecError(err)
	}
	return cloneKey(k), v, true, nil
}

// First moves to the first entry
func (c *Cursor) First() ([]byte, codec.Value, bool, error) {
	if err := c.check(); err != nil {
		return nil, nil, false, err
	}
	return c.move(nil, db.OpFirst, cursorUnpositioned)
}

// Last moves to the last entry
func (c *Cursor) Last() ([]byte, codec.Value, bool, error) {
	if err := c.check(); err != nil {
		return nil, nil, false, err
	}
	return c.move(nil, db.OpLast, cursorUnpositioned)
}

// Seek moves to the first entry with a key >= key
func (c *Cursor) Seek(key []byte) ([]byte, codec.Value, bool, error) {
	if err := c.check(); err != nil {
		return nil, nil, false, err
	}
	return c.move(key, db.OpSetRange, cursorPastEnd)
}

// Next moves to the next entry, the first one if the cursor is unpositioned
func (c *Cursor) Next() ([]byte, codec.Value, bool, error) {
	if err := c.check(); err != nil {
		return nil, nil, false, err
	}
	switch c.state {
	case cursorPastEnd:
		return nil, nil, false, nil
	case cursorBeforeStart:
		return c.move(nil, db.OpFirst, cursorPastEnd)
	default:
		return c.move(nil, db.OpNext, cursorPastEnd)
	}
}

// Prev moves to the previous entry, the last one if the cursor is unpositioned
func (c *Cursor) Prev() ([]byte, codec.Value, bool, error) {
	if err := c.check(); err != nil {
		return nil, nil, false, err
	}
	switch c.state {
	case cursorBeforeStart:
		return nil, nil, false, nil
	case cursorPastEnd:
		return c.move(nil, db.OpLast, cursorBeforeStart)
	default:
		return c.move(nil, db.OpPrev, cursorBeforeStart)
	}
}

// NextNoDup moves to the first value of the next key
func (c *Cursor) NextNoDup() ([]byte, codec.Value, bool, error) {
	if err := c.checkDup(); err != nil {
		return nil, nil, false, err
	}
	switch c.state {
	case cursorPastEnd:
		return nil, nil, false, nil
	case cursorBeforeStart:
		return c.move(nil, db.OpFirst, cursorPastEnd)
	default:
		return c.move(nil, db.OpNextNoDup, cursorPastEnd)
	}
}

// dup runs a duplicate operation, they need a positioned cursor
func (c *Cursor) dup(op db.CursorOp) ([]byte, codec.Value, bool, error) {
	if err := c.checkDup(); err != nil {
		return nil, nil, false, err
	}
	if c.state != cursorPositioned {
		return nil, nil, false, nil
	}
	return c.move(nil, op, keepState)
}

// FirstDup moves to the first value of the current key
func (c *Cursor) FirstDup() ([]byte, codec.Value, bool, error) {
	return c.dup(db.OpFirstDup)
}

// LastDup moves to the last value of the current key
func (c *Cursor) LastDup() ([]byte, codec.Value, bool, error) {
	return c.dup(db.OpLastDup)
}

// NextDup moves to the next value of the current key. Running out of values
// keeps the cursor on the last one.
func (c *Cursor) NextDup() ([]byte, codec.Value, bool, error) {
	return c.dup(db.OpNextDup)
}

// PrevDup moves to the previous value of the current key
func (c *Cursor) PrevDup() ([]byte, codec.Value, bool, error) {
	return c.dup(db.OpPrevDup)
}

// Close releases the cursor. It is a no-op on closed cursors.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.raw.Close()
}
