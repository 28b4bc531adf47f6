package bolt

import (
	"bytes"
	"github.com/ValentinKolb/rKV/lib/db"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// txn wraps a bbolt transaction and implements db.ReadTxn and db.WriteTxn
//
// Thread-safety: A transaction must only be used by one goroutine at a time.
type txn struct {
	env      *boltEnv
	tx       *bbolt.Tx
	writable bool
	done     bool
	written  int64 // net accounted growth of this transaction
}

// table returns the bucket of dbi and its flags
func (t *txn) table(dbi db.DBI) (table, db.DBFlags, error) {
	if t.done {
		return table{}, 0, db.ErrTxnDone
	}
	name, flags, err := t.env.resolve(dbi)
	if err != nil {
		return table{}, 0, err
	}
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return table{}, 0, db.ErrInvalid
	}
	return table{b: b, dup: flags&db.FlagDupSort != 0}, flags, nil
}

// storedKey converts key into the form kept in the bucket
func storedKey(flags db.DBFlags, key []byte) ([]byte, error) {
	if flags&db.FlagIntegerKey != 0 {
		return db.OrderedIntegerKey(key)
	}
	if len(key) == 0 {
		return nil, db.ErrBadValSize
	}
	return key, nil
}

// returnedKey reverses storedKey
func returnedKey(flags db.DBFlags, key []byte) []byte {
	if flags&db.FlagIntegerKey != 0 {
		if native, err := db.NativeIntegerKey(key); err == nil {
			return native
		}
	}
	return key
}

func (t *txn) Get(dbi db.DBI, key []byte) ([]byte, error) {
	tbl, flags, err := t.table(dbi)
	if err != nil {
		return nil, err
	}
	k, err := storedKey(flags, key)
	if err != nil {
		return nil, err
	}
	_, v, ok := tbl.firstOf(k)
	if !ok {
		return nil, db.ErrNotFound
	}
	return v, nil
}

func (t *txn) Cursor(dbi db.DBI) (db.Cursor, error) {
	if _, _, err := t.table(dbi); err != nil {
		return nil, err
	}
	return &cursor{txn: t, dbi: dbi}, nil
}

func (t *txn) Stat(dbi db.DBI) (db.Stat, error) {
	tbl, _, err := t.table(dbi)
	if err != nil {
		return db.Stat{}, err
	}
	s := tbl.b.Stats()
	return db.Stat{
		PageSize:      uint(t.env.bdb.Info().PageSize),
		Depth:         uint(s.Depth),
		BranchPages:   uint64(s.BranchPageN),
		LeafPages:     uint64(s.LeafPageN),
		OverflowPages: uint64(s.LeafOverflowN + s.BranchOverflowN),
		Entries:       tbl.count(),
	}, nil
}

// writeTable returns the bucket of dbi for modification
func (t *txn) writeTable(dbi db.DBI, key []byte) (table, []byte, error) {
	if t.done {
		return table{}, nil, db.ErrTxnDone
	}
	if !t.writable {
		return table{}, nil, db.ErrReadOnly
	}
	tbl, flags, err := t.table(dbi)
	if err != nil {
		return table{}, nil, err
	}
	k, err := storedKey(flags, key)
	if err != nil {
		return table{}, nil, err
	}
	return tbl, k, nil
}

func (t *txn) Put(dbi db.DBI, key, val []byte, flags db.PutFlags) error {
	tbl, k, err := t.writeTable(dbi, key)
	if err != nil {
		return err
	}
	if val == nil {
		val = []byte{}
	}

	if !tbl.dup {
		old, exists := seekExact(tbl.b, k)
		if exists && flags&db.PutNoOverwrite != 0 {
			return db.ErrKeyExists
		}
		delta := entrySize(k, val)
		if exists {
			delta -= entrySize(k, old)
		}
		if err := t.reserve(delta); err != nil {
			return err
		}
		return mapError(tbl.b.Put(k, val))
	}

	nb := tbl.b.Bucket(k)
	if nb != nil && flags&db.PutNoOverwrite != 0 {
		return db.ErrKeyExists
	}
	enc := encodeDup(val)
	if nb != nil {
		if _, exists := seekExact(nb, enc); exists {
			if flags&db.PutNoDupData != 0 {
				return db.ErrKeyExists
			}
			return nil
		}
	}
	delta := entrySize(enc, nil)
	if nb == nil {
		delta += entrySize(k, nil)
	}
	if err := t.reserve(delta); err != nil {
		return err
	}
	if nb == nil {
		if nb, err = tbl.b.CreateBucket(k); err != nil {
			return mapError(err)
		}
	}
	return mapError(nb.Put(enc, []byte{}))
}

// entrySize is the accounted size of one key/value pair
func entrySize(k, v []byte) int64 {
	return int64(len(k)+len(v)) + entryOverhead
}

// bucketSize sums the accounted size of every entry of b, nested buckets included
func bucketSize(b *bbolt.Bucket) int64 {
	var n int64
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n += entrySize(k, v)
		if v == nil {
			if nb := b.Bucket(k); nb != nil {
				n += bucketSize(nb)
			}
		}
	}
	return n
}

// reserve fails with ErrMapFull if growing by delta could make the file
// outgrow the map size. bbolt allocates pages on commit, so the check uses the
// size of the last commit plus the net growth of this transaction. Shrinking
// never fails.
func (t *txn) reserve(delta int64) error {
	if delta > 0 && t.env.mapSize > 0 && t.tx.Size()+t.written+delta > t.env.mapSize {
		return db.ErrMapFull
	}
	t.written += delta
	return nil
}

func (t *txn) Del(dbi db.DBI, key, val []byte) error {
	tbl, k, err := t.writeTable(dbi, key)
	if err != nil {
		return err
	}

	if !tbl.dup {
		old, exists := seekExact(tbl.b, k)
		if !exists {
			return db.ErrNotFound
		}
		if err := tbl.b.Delete(k); err != nil {
			return mapError(err)
		}
		t.written -= entrySize(k, old)
		return nil
	}

	nb := tbl.b.Bucket(k)
	if nb == nil {
		return db.ErrNotFound
	}
	if val == nil {
		freed := entrySize(k, nil) + bucketSize(nb)
		if err := tbl.b.DeleteBucket(k); err != nil {
			return mapError(err)
		}
		t.written -= freed
		return nil
	}
	enc := encodeDup(val)
	if _, exists := seekExact(nb, enc); !exists {
		return db.ErrNotFound
	}
	if err := nb.Delete(enc); err != nil {
		return mapError(err)
	}
	t.written -= entrySize(enc, nil)
	// keys without duplicates do not exist
	if first, _ := nb.Cursor().First(); first == nil {
		if err := tbl.b.DeleteBucket(k); err != nil {
			return mapError(err)
		}
		t.written -= entrySize(k, nil)
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
	name, _, err := t.env.resolve(dbi)
	if err != nil {
		return err
	}
	var freed int64
	if b := t.tx.Bucket([]byte(name)); b != nil {
		freed = bucketSize(b)
	}
	if err := t.tx.DeleteBucket([]byte(name)); err != nil {
		return mapError(err)
	}
	if _, err = t.tx.CreateBucket([]byte(name)); err != nil {
		return mapError(err)
	}
	t.written -= freed
	return nil
}

func (t *txn) Commit() error {
	if t.done {
		return db.ErrTxnDone
	}
	if !t.writable {
		return db.ErrReadOnly
	}
	t.done = true
	return mapError(t.tx.Commit())
}

// Abort rolls back the transaction, it is a no-op on finished transactions
func (t *txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
	if !t.writable {
		t.env.readers.Add(-1)
	}
}

// --------------------------------------------------------------------------
// Cursor
// --------------------------------------------------------------------------

// cursor remembers the last returned entry and seeks relative to it on every
// call, so it stays valid while its write transaction modifies the bucket.
type cursor struct {
	txn        *txn
	dbi        db.DBI
	key, val   []byte // stored form of the current entry
	positioned bool
	closed     bool
}

func (c *cursor) Get(key, val []byte, op db.CursorOp) ([]byte, []byte, error) {
	if c.closed {
		return nil, nil, db.ErrInvalid
	}
	tbl, flags, err := c.txn.table(c.dbi)
	if err != nil {
		return nil, nil, err
	}

	var (
		k, v     []byte
		ok       bool
		absolute bool
	)
	switch op {
	case db.OpFirst:
		absolute = true
		k, v, ok = tbl.first()
	case db.OpLast:
		absolute = true
		k, v, ok = tbl.last()
	case db.OpNext:
		if !c.positioned {
			k, v, ok = tbl.first()
		} else {
			k, v, ok = tbl.after(c.key, c.val)
		}
	case db.OpPrev:
		if !c.positioned {
			k, v, ok = tbl.last()
		} else {
			k, v, ok = tbl.before(c.key, c.val)
		}
	case db.OpSet, db.OpSetRange, db.OpGetBoth:
		absolute = true
		sk, err := storedKey(flags, key)
		if err != nil {
			return nil, nil, err
		}
		switch op {
		case db.OpSet:
			k, v, ok = tbl.firstOf(sk)
		case db.OpSetRange:
			k, v, ok = tbl.ceil(sk, nil)
		default:
			k, v, ok = tbl.ceil(sk, val)
			ok = ok && bytes.Equal(k, sk) && bytes.Equal(v, val)
		}
	case db.OpFirstDup:
		if c.positioned {
			k, v, ok = tbl.firstOf(c.key)
		}
	case db.OpLastDup:
		if c.positioned {
			k, v, ok = tbl.lastOf(c.key)
		}
	case db.OpNextDup:
		if c.positioned {
			k, v, ok = tbl.nextDup(c.key, c.val)
		}
	case db.OpPrevDup:
		if c.positioned {
			k, v, ok = tbl.prevDup(c.key, c.val)
		}
	case db.OpNextNoDup:
		if !c.positioned {
			k, v, ok = tbl.first()
		} else {
			k, v, ok = tbl.nextKey(c.key)
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
	// bbolt memory may be reused by later writes of the transaction
	c.key = append(c.key[:0], k...)
	c.val = append(c.val[:0], v...)
	c.positioned = true
	return returnedKey(flags, k), v, nil
}

func (c *cursor) Close() {
	c.closed = true
}
