package store

import (
	"context"
	"github.com/ValentinKolb/rKV/lib/db"
	"time"
)

// --------------------------------------------------------------------------
// Transaction State
// --------------------------------------------------------------------------

// TxnStatus is the state of a transaction. Active is the only state that
// allows operations, Committed and Aborted are terminal.
type TxnStatus uint8

const (
	TxnActive TxnStatus = iota
	TxnCommitted
	TxnAborted
)

func (s TxnStatus) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Read Transactions
// --------------------------------------------------------------------------

// ReadTxn is a consistent snapshot of the environment as of the last commit
// before it began. Readers never block each other or the writer.
//
// Byte slices and cursors obtained through the transaction are only valid
// while it is active.
//
// Thread-safety: A transaction must only be used by one goroutine at a time.
type ReadTxn struct {
	env    *Environment
	raw    db.ReadTxn
	status TxnStatus
	end    func() // releases what the environment holds for the transaction
}

func (t *ReadTxn) Environment() *Environment {
	return t.env
}

func (t *ReadTxn) Status() TxnStatus {
	return t.status
}

func (t *ReadTxn) backend() (db.ReadTxn, error) {
	if t.status != TxnActive {
		return nil, ErrTransactionFinished
	}
	return t.raw, nil
}

// Abort ends the transaction and discards uncommitted writes. It is a no-op
// on finished transactions, so `defer txn.Abort()` is always safe.
func (t *ReadTxn) Abort() {
	if t.status != TxnActive {
		return
	}
	t.status = TxnAborted
	t.raw.Abort()
	t.finish()
}

func (t *ReadTxn) finish() {
	if t.end != nil {
		t.end()
		t.end = nil
	}
}

// --------------------------------------------------------------------------
// Write Transactions
// --------------------------------------------------------------------------

// WriteTxn is the exclusive writer of an environment. Its changes are
// invisible to readers until Commit. It embeds ReadTxn, so every read
// operation accepts it as well.
//
// Thread-safety: A transaction must only be used by one goroutine at a time.
type WriteTxn struct {
	ReadTxn
	w db.WriteTxn
}

func (t *WriteTxn) writer() (db.WriteTxn, error) {
	if t.status != TxnActive {
		return nil, ErrTransactionFinished
	}
	return t.w, nil
}

// Commit atomically publishes every change of the transaction. A failed
// commit applies nothing and leaves the transaction aborted.
func (t *WriteTxn) Commit() error {
	if t.status != TxnActive {
		return ErrTransactionFinished
	}
	m := t.env.metrics
	if err := t.w.Commit(); err != nil {
		t.status = TxnAborted
		t.w.Abort()
		t.finish()
		m.failed.Inc()
		plog.Warningf("commit on %s failed: %v", t.env.path, err)
		return backendError("commit", err)
	}
	t.status = TxnCommitted
	t.finish()
	m.commits.Inc()
	return nil
}

// Abort discards every change of the transaction and releases the writer.
// It is a no-op on finished transactions.
func (t *WriteTxn) Abort() {
	if t.status != TxnActive {
		return
	}
	t.ReadTxn.Abort()
	t.env.metrics.aborts.Inc()
}

// --------------------------------------------------------------------------
// Beginning Transactions
// --------------------------------------------------------------------------

// BeginRead starts a read transaction
func (e *Environment) BeginRead() (*ReadTxn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	raw, err := e.env.BeginRead()
	if err != nil {
		return nil, backendError("begin read", err)
	}
	e.readers.Add(1)
	e.metrics.readTxns.Inc()
	return &ReadTxn{env: e, raw: raw, end: func() { e.readers.Add(-1) }}, nil
}

// BeginWrite starts the write transaction. Under the block policy it waits
// until the active writer has finished, including a writer of the calling
// goroutine, so code that may nest writers uses TryBeginWrite or
// BeginWriteContext. Under the fail-fast policy it returns
// ErrWriteTxnUnavailable instead of waiting. The mdbx backend requires the
// transaction to be committed or aborted by the goroutine that began it.
func (e *Environment) BeginWrite() (*WriteTxn, error) {
	return e.BeginWriteContext(context.Background())
}

// BeginWriteContext is BeginWrite with a bounded wait
func (e *Environment) BeginWriteContext(ctx context.Context) (*WriteTxn, error) {
	return e.beginWrite(func() error { return e.gate.acquire(ctx) })
}

// TryBeginWrite starts the write transaction if no other writer is active
// or waiting, it never blocks
func (e *Environment) TryBeginWrite() (*WriteTxn, error) {
	return e.beginWrite(e.gate.tryAcquire)
}

func (e *Environment) beginWrite(acquire func() error) (*WriteTxn, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if e.cfg.ReadOnly {
		return nil, ErrReadOnly
	}

	start := time.Now()
	if err := acquire(); err != nil {
		e.metrics.unavailable.Inc()
		return nil, err
	}
	raw, err := e.env.BeginWrite()
	if err != nil {
		e.gate.release()
		return nil, backendError("begin write", err)
	}
	e.metrics.writerAcquired(start)

	begun := time.Now()
	txn := &WriteTxn{w: raw}
	txn.ReadTxn = ReadTxn{
		env: e,
		raw: raw,
		end: func() {
			e.metrics.writeTxnTime.UpdateDuration(begun)
			e.gate.release()
		},
	}
	return txn, nil
}

// View runs fn in a read transaction
func (e *Environment) View(fn func(txn *ReadTxn) error) error {
	txn, err := e.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

// Update runs fn in a write transaction. The transaction is committed if fn
// returns nil and aborted otherwise.
func (e *Environment) Update(fn func(txn *WriteTxn) error) error {
	txn, err := e.BeginWrite()
	if err != nil {
		return err
	}
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}
